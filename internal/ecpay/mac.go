// Package ecpay implements the ECPay all-in-one checkout integration:
// CheckMacValue signing, checkout request construction and asynchronous
// callback verification.
package ecpay

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const macField = "CheckMacValue"

// ComputeMAC calculates the CheckMacValue over the parameter set.
//
// The procedure must match the gateway byte for byte: drop any existing
// CheckMacValue, sort keys case-insensitively, join as k=v pairs, wrap
// with HashKey/HashIV, form-encode (space becomes +, the characters
// !'()* are percent-escaped), lowercase everything, MD5, uppercase hex.
// Go's url.QueryEscape yields exactly the required encoding profile.
func ComputeMAC(params map[string]string, key, iv string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.EqualFold(k, macField) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(key)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(iv)

	encoded := strings.ToLower(url.QueryEscape(b.String()))
	sum := md5.Sum([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyMAC recomputes the CheckMacValue and compares it to the
// supplied one. Returns false for any malformed input.
func VerifyMAC(params map[string]string, supplied, key, iv string) bool {
	if supplied == "" {
		return false
	}
	return ComputeMAC(params, key, iv) == supplied
}
