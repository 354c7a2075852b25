package pay

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecrypt marks a notification that failed verification or decryption.
// The whole notification is rejected: no credit may be applied from a
// payload we could not authenticate.
var ErrDecrypt = errors.New("failed to decrypt payment notification")

// notifyEnvelope is the outer JSON WeChat Pay posts to the notify URL.
type notifyEnvelope struct {
	EventType string `json:"event_type"`
	Resource  struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		AssociatedData string `json:"associated_data"`
		Nonce          string `json:"nonce"`
	} `json:"resource"`
}

// Transaction is the decrypted notification resource.
type Transaction struct {
	OutTradeNo string `json:"out_trade_no"`
	TradeState string `json:"trade_state"`
	Attach     string `json:"attach"`
	Payer      struct {
		OpenID string `json:"openid"`
	} `json:"payer"`
	Amount struct {
		Total int `json:"total"`
	} `json:"amount"`
}

// OpenID resolves the paying account: the attach field carries the OpenID
// we set at order creation, with the payer field as backup.
func (t *Transaction) OpenID() string {
	if t.Attach != "" {
		return t.Attach
	}
	return t.Payer.OpenID
}

// DecryptNotification unwraps a notify payload. The resource is
// AES-256-GCM encrypted with the merchant APIv3 key, the auth tag appended
// to the ciphertext.
func DecryptNotification(apiKey string, body []byte) (*Transaction, error) {
	var envelope notifyEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if envelope.Resource.Ciphertext == "" {
		// Unencrypted payload, seen from test harnesses.
		var txn Transaction
		if err := json.Unmarshal(body, &txn); err != nil || txn.OutTradeNo == "" {
			return nil, fmt.Errorf("%w: no ciphertext and no plain transaction", ErrDecrypt)
		}
		return &txn, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Resource.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	block, err := aes.NewCipher([]byte(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plaintext, err := gcm.Open(nil,
		[]byte(envelope.Resource.Nonce),
		ciphertext,
		[]byte(envelope.Resource.AssociatedData),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	var txn Transaction
	if err := json.Unmarshal(plaintext, &txn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return &txn, nil
}
