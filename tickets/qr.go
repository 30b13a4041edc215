package tickets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"eventhub/globals"
	"eventhub/models"

	"github.com/skip2/go-qrcode"
)

var ErrBadQR = errors.New("invalid ticket QR code")

// QRClaims is what a scanned ticket QR asserts.
type QRClaims struct {
	EventID  string
	TicketID string
	Code     string
}

func sign(data string) string {
	h := hmac.New(sha256.New, globals.QRSecret)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// QRPayload returns eventID|ticketID|code|signature. Printed tickets do
// not expire, so no timestamp is signed.
func QRPayload(t models.Ticket) string {
	data := t.EventID + "|" + t.ID + "|" + t.Code
	return data + "|" + sign(data)
}

func VerifyQR(payload string) (QRClaims, error) {
	parts := strings.Split(strings.TrimSpace(payload), "|")
	if len(parts) != 4 {
		return QRClaims{}, ErrBadQR
	}
	data := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(parts[3]), []byte(sign(data))) {
		return QRClaims{}, ErrBadQR
	}
	return QRClaims{EventID: parts[0], TicketID: parts[1], Code: parts[2]}, nil
}

func QRPNG(t models.Ticket, size int) ([]byte, error) {
	return qrcode.Encode(QRPayload(t), qrcode.Medium, size)
}
