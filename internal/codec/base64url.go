// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package codec

import (
	"encoding/base64"
	"strings"
)

// B64U encodes bytes as unpadded URL-safe base64.
func B64U(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// B64UDecode decodes an unpadded (or padded) URL-safe base64 string. Absent
// padding is tolerated by right-padding to a multiple of 4 before decode.
func B64UDecode(s string) ([]byte, error) {
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	return base64.URLEncoding.DecodeString(s)
}
