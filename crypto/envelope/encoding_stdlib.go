package envelope

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
)

var (
	b64Std = base64.StdEncoding
	b64URL = base64.URLEncoding
	b32Std = base32.StdEncoding
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func hexDecode(s string) ([]byte, error) { return hex.DecodeString(s) }
