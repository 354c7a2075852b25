package pay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// loadPrivateKey reads the merchant RSA private key from a PEM file.
// Accepts both PKCS#8 and PKCS#1 encodings.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an RSA key", path)
		}
		return rsaKey, nil
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// signSHA256RSA produces the base64 RSA-SHA256 signature WeChat Pay v3
// expects for both request auth headers and client paySign values.
func signSHA256RSA(key *rsa.PrivateKey, message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

const nonceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// nonce returns a random alphanumeric string of the given length.
func nonce(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(nonceChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; degrade to a time-derived character.
			buf[i] = nonceChars[int(time.Now().UnixNano())%len(nonceChars)]
			continue
		}
		buf[i] = nonceChars[n.Int64()]
	}
	return string(buf)
}

// buildAuthorization assembles the WECHATPAY2-SHA256-RSA2048 header for one
// API request.
func buildAuthorization(key *rsa.PrivateKey, mchID, serial, method, urlPath, body string) (string, error) {
	timestamp := time.Now().Unix()
	nonceStr := nonce(32)

	message := fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, urlPath, timestamp, nonceStr, body)
	signature, err := signSHA256RSA(key, message)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		mchID, nonceStr, signature, timestamp, serial,
	), nil
}
