package cache

import "github.com/orneryd/vdb/pkg/vdberr"

var errFingerprintLength = vdberr.New(vdberr.Invalid, "cache: fingerprint must decode to 32 bytes")
