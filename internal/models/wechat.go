package models

import "encoding/xml"

// InboundMessage is a message pushed by the WeChat Official Account
// platform. One struct covers all MsgTypes; unused fields stay empty.
type InboundMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        string   `xml:"MsgId"`
	Content      string   `xml:"Content"`
	PicURL       string   `xml:"PicUrl"`
	MediaID      string   `xml:"MediaId"`
	Recognition  string   `xml:"Recognition"`
	Label        string   `xml:"Label"`
	Event        string   `xml:"Event"`
}

// Article is one card in a news reply.
type Article struct {
	Title       string
	Description string
	PicURL      string
	URL         string
}
