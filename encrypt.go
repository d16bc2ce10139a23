// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Summary of a file's encryption dictionary. Content is never
// decrypted; the analysis describes the protection instead of removing
// it. See PDF 32000-1:2008, §7.6.

package pdx

// EncryptionSummary describes the Encrypt dictionary of a protected
// file. The zero value (Encrypted == false) means the file is not
// encrypted.
type EncryptionSummary struct {
	Encrypted bool   `json:"encrypted"`
	Filter    string `json:"filter,omitempty"`
	SubFilter string `json:"sub_filter,omitempty"`
	V         int    `json:"v,omitempty"`
	R         int    `json:"r,omitempty"`
	KeyBits   int    `json:"key_bits,omitempty"`

	// Permissions lists the user operations the P entry allows.
	Permissions []string `json:"permissions,omitempty"`
	P           int64    `json:"p,omitempty"`
}

// permissionBits maps P entry bit positions (1-based, per the spec's
// Table 22) to operation names.
var permissionBits = []struct {
	bit  uint
	name string
}{
	{3, "print"},
	{4, "modify"},
	{5, "copy"},
	{6, "annotate"},
	{9, "fill-forms"},
	{10, "extract-accessibility"},
	{11, "assemble"},
	{12, "print-high-res"},
}

// Encryption summarizes the document's Encrypt dictionary. Weak
// parameters (RC4, short keys) are recorded as anomalies.
func (d *Document) Encryption() EncryptionSummary {
	encVal := d.resolve(objptr{}, d.trailer["Encrypt"])
	enc, ok := encVal.data.(dict)
	if !ok || len(enc) == 0 {
		return EncryptionSummary{}
	}

	s := EncryptionSummary{Encrypted: true}
	if f, ok := enc["Filter"].(name); ok {
		s.Filter = string(f)
	}
	if sf, ok := enc["SubFilter"].(name); ok {
		s.SubFilter = string(sf)
	}
	if v, ok := enc["V"].(int64); ok {
		s.V = int(v)
	}
	if r, ok := enc["R"].(int64); ok {
		s.R = int(r)
	}
	s.KeyBits = 40
	if n, ok := enc["Length"].(int64); ok && n > 0 {
		s.KeyBits = int(n)
	}
	if s.V == 5 {
		s.KeyBits = 256
	}
	if p, ok := enc["P"].(int64); ok {
		s.P = p
		for _, pb := range permissionBits {
			if p&(1<<(pb.bit-1)) != 0 {
				s.Permissions = append(s.Permissions, pb.name)
			}
		}
	}

	// V 1 and 2 are RC4; V 4 can be RC4 or AES depending on the crypt
	// filter. Anything below 128-bit AES counts as weak today.
	switch {
	case s.V <= 2:
		d.anomalies.add(AnomalyWeakEncryption, SeverityInfo, ObjectID{},
			"RC4 encryption with %d-bit key", s.KeyBits)
	case s.KeyBits < 128:
		d.anomalies.add(AnomalyWeakEncryption, SeverityInfo, ObjectID{},
			"%d-bit encryption key", s.KeyBits)
	}
	return s
}
