package ecpay_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Snippy-project/Snippy-backend/internal/ecpay"
)

func stagingClient() *ecpay.Client {
	c := ecpay.NewClient(ecpay.Config{
		ServiceURL: "https://payment-stage.ecpay.com.tw",
		MerchantID: "2000132",
		HashKey:    testHashKey,
		HashIV:     testHashIV,
	})
	c.Now = func() time.Time {
		return time.Date(2025, 3, 1, 12, 30, 45, 0, time.Local)
	}
	return c
}

func TestBuildCheckout(t *testing.T) {
	client := stagingClient()
	req, err := client.BuildCheckout("SNABCDEF0123456789", "Custom domain (30 days)", 9900, ecpay.CheckoutURLs{
		ReturnURL: "https://api.snippy.dev/api/orders/payment/callback",
	})
	require.NoError(t, err)
	require.Equal(t, "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5", req.Action)
	require.Equal(t, "2000132", req.Params["MerchantID"])
	require.Equal(t, "SNABCDEF0123456789", req.Params["MerchantTradeNo"])
	require.Equal(t, "2025-03-01 12:30:45", req.Params["MerchantTradeDate"])
	require.Equal(t, "aio", req.Params["PaymentType"])
	require.Equal(t, "9900", req.Params["TotalAmount"])
	require.Equal(t, "Credit", req.Params["ChoosePayment"])
	require.Equal(t, "1", req.Params["EncryptType"])
	require.NotContains(t, req.Params, "ClientBackURL")
	require.NotContains(t, req.Params, "OrderResultURL")
	require.Equal(t, "FF190E9CA550442B4241EEE1619F68BA", req.Params["CheckMacValue"])
}

func TestBuildCheckoutOptionalURLs(t *testing.T) {
	client := stagingClient()
	req, err := client.BuildCheckout("SN0000000000000001", "Quota pack", 5000, ecpay.CheckoutURLs{
		ReturnURL:      "https://api.snippy.dev/api/orders/payment/callback",
		ClientBackURL:  "https://snippy.dev/orders/1",
		OrderResultURL: "https://snippy.dev/orders/1/result",
	})
	require.NoError(t, err)
	require.Equal(t, "https://snippy.dev/orders/1", req.Params["ClientBackURL"])
	require.Equal(t, "https://snippy.dev/orders/1/result", req.Params["OrderResultURL"])

	// The optional fields are part of the signed set.
	params := make(map[string]string, len(req.Params))
	for k, v := range req.Params {
		params[k] = v
	}
	require.True(t, ecpay.VerifyMAC(params, req.Params["CheckMacValue"], testHashKey, testHashIV))
}

func TestBuildCheckoutValidation(t *testing.T) {
	client := stagingClient()
	urls := ecpay.CheckoutURLs{ReturnURL: "https://api.snippy.dev/cb"}

	_, err := client.BuildCheckout("", "item", 100, urls)
	require.Error(t, err)

	_, err = client.BuildCheckout(strings.Repeat("A", 21), "item", 100, urls)
	require.Error(t, err)

	_, err = client.BuildCheckout("SN1", "item", 0, urls)
	require.Error(t, err)

	_, err = client.BuildCheckout("SN1", "item", 100, ecpay.CheckoutURLs{})
	require.Error(t, err)
}

func TestCheckoutFormHTML(t *testing.T) {
	client := stagingClient()
	req, err := client.BuildCheckout("SNABCDEF0123456789", "Custom domain (30 days)", 9900, ecpay.CheckoutURLs{
		ReturnURL: "https://api.snippy.dev/api/orders/payment/callback",
	})
	require.NoError(t, err)

	html, err := ecpay.CheckoutFormHTML(req)
	require.NoError(t, err)
	require.Contains(t, html, `action="https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"`)
	require.Contains(t, html, `name="MerchantTradeNo" value="SNABCDEF0123456789"`)
	require.Contains(t, html, `name="CheckMacValue" value="FF190E9CA550442B4241EEE1619F68BA"`)
	require.Contains(t, html, "ecpayForm")
}
