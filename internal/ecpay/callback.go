package ecpay

import (
	"errors"
	"net/url"
	"strconv"
)

// ErrInvalidMAC indicates the callback signature did not verify. No
// other field of the payload may be trusted when this is returned.
var ErrInvalidMAC = errors.New("ecpay: checkmacvalue verification failed")

// The gateway reports success with RtnCode 1.
const rtnCodeSuccess = "1"

// CallbackResult is the normalised payload of a verified asynchronous
// payment notification.
type CallbackResult struct {
	MerchantTradeNo string
	TradeNo         string
	PaymentDate     string
	PaymentType     string
	TradeAmt        int64
	SimulatePaid    bool
	RtnCode         string
	RtnMsg          string
	CheckMacValue   string
}

// Paid reports whether the callback represents a successful payment.
// The simulated-paid flag covers the sandbox path where RtnCode differs.
func (r CallbackResult) Paid() bool {
	return r.RtnCode == rtnCodeSuccess || r.SimulatePaid
}

// ParseCallback verifies the CheckMacValue over the form-encoded payload
// and normalises it. Pure with respect to storage: no I/O happens here.
func (c *Client) ParseCallback(values url.Values) (CallbackResult, error) {
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	supplied := params[macField]
	if !VerifyMAC(params, supplied, c.Config.HashKey, c.Config.HashIV) {
		return CallbackResult{}, ErrInvalidMAC
	}

	amount, _ := strconv.ParseInt(params["TradeAmt"], 10, 64)
	return CallbackResult{
		MerchantTradeNo: params["MerchantTradeNo"],
		TradeNo:         params["TradeNo"],
		PaymentDate:     params["PaymentDate"],
		PaymentType:     params["PaymentType"],
		TradeAmt:        amount,
		SimulatePaid:    params["SimulatePaid"] == "1",
		RtnCode:         params["RtnCode"],
		RtnMsg:          params["RtnMsg"],
		CheckMacValue:   supplied,
	}, nil
}

// Sign computes the CheckMacValue for a parameter set using the client's
// secrets. Exposed for the development-only simulated payment flow.
func (c *Client) Sign(params map[string]string) string {
	return ComputeMAC(params, c.Config.HashKey, c.Config.HashIV)
}
