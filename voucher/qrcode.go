package voucher

import (
	"fmt"
	"net/url"

	"github.com/juju/errors"
	qrcode "github.com/skip2/go-qrcode"

	"go-hotspot/db"
)

// LoginURI is what a printed voucher card encodes: the captive portal login
// page with the credentials filled in.
func LoginURI(portalURL string, v *db.Voucher) string {
	q := url.Values{}
	q.Set("username", v.Code)
	q.Set("password", v.Password)
	return fmt.Sprintf("%s/login?%s", portalURL, q.Encode())
}

// QRCode renders the login URI as a PNG.
func QRCode(portalURL string, v *db.Voucher, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(LoginURI(portalURL, v), qrcode.Medium, size)
	return png, errors.Annotatef(err, "encoding qr code for voucher %s", v.Code)
}
