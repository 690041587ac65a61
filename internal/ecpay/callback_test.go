package ecpay_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Snippy-project/Snippy-backend/internal/ecpay"
)

func signedCallback(t *testing.T, client *ecpay.Client, overrides map[string]string) url.Values {
	t.Helper()
	params := map[string]string{
		"MerchantID":      "2000132",
		"MerchantTradeNo": "SNABCDEF0123456789",
		"TradeNo":         "2403011234567890",
		"PaymentDate":     "2025/03/01 12:35:10",
		"PaymentType":     "Credit_CreditCard",
		"TradeAmt":        "9900",
		"SimulatePaid":    "0",
		"RtnCode":         "1",
		"RtnMsg":          "Succeeded",
	}
	for k, v := range overrides {
		params[k] = v
	}
	params["CheckMacValue"] = client.Sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

func TestParseCallbackSuccess(t *testing.T) {
	client := stagingClient()
	result, err := client.ParseCallback(signedCallback(t, client, nil))
	require.NoError(t, err)
	require.True(t, result.Paid())
	require.Equal(t, "SNABCDEF0123456789", result.MerchantTradeNo)
	require.Equal(t, "2403011234567890", result.TradeNo)
	require.Equal(t, int64(9900), result.TradeAmt)
	require.False(t, result.SimulatePaid)
	require.Equal(t, "1", result.RtnCode)
}

func TestParseCallbackSimulatePaid(t *testing.T) {
	client := stagingClient()
	result, err := client.ParseCallback(signedCallback(t, client, map[string]string{
		"RtnCode":      "10300066",
		"SimulatePaid": "1",
	}))
	require.NoError(t, err)
	require.True(t, result.SimulatePaid)
	require.True(t, result.Paid())
}

func TestParseCallbackBusinessFailure(t *testing.T) {
	client := stagingClient()
	result, err := client.ParseCallback(signedCallback(t, client, map[string]string{
		"RtnCode": "10100058",
		"RtnMsg":  "payment failed",
	}))
	require.NoError(t, err)
	require.False(t, result.Paid())
	require.Equal(t, "payment failed", result.RtnMsg)
}

func TestParseCallbackForgedMAC(t *testing.T) {
	client := stagingClient()
	values := signedCallback(t, client, nil)
	values.Set("TradeAmt", "1")
	_, err := client.ParseCallback(values)
	require.ErrorIs(t, err, ecpay.ErrInvalidMAC)

	// A MAC computed under different secrets must not verify either.
	other := ecpay.NewClient(ecpay.Config{
		ServiceURL: "https://payment-stage.ecpay.com.tw",
		MerchantID: "2000132",
		HashKey:    "0000000000000000",
		HashIV:     "1111111111111111",
	})
	_, err = client.ParseCallback(signedCallback(t, other, nil))
	require.ErrorIs(t, err, ecpay.ErrInvalidMAC)
}

func TestParseCallbackMissingMAC(t *testing.T) {
	client := stagingClient()
	values := signedCallback(t, client, nil)
	values.Del("CheckMacValue")
	_, err := client.ParseCallback(values)
	require.ErrorIs(t, err, ecpay.ErrInvalidMAC)
}
