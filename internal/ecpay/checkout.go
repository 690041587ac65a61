package ecpay

import (
	"errors"
	"html/template"
	"strconv"
	"strings"
	"time"
)

const (
	checkoutPath  = "/Cashier/AioCheckOut/V5"
	paymentType   = "aio"
	choosePayment = "Credit"
	encryptType   = "1"
	tradeDesc     = "Snippy short URL service"

	// MerchantTradeNo is capped at 20 alphanumeric characters.
	maxTradeNoLen = 20
)

// Config carries the immutable gateway settings. It is built once from
// application configuration and injected; nothing reads the environment
// at call time.
type Config struct {
	ServiceURL string
	MerchantID string
	HashKey    string
	HashIV     string
}

// Client signs checkout requests and verifies callbacks for one merchant.
type Client struct {
	Config Config
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewClient constructs a gateway client from immutable configuration.
func NewClient(cfg Config) *Client {
	cfg.ServiceURL = strings.TrimRight(strings.TrimSpace(cfg.ServiceURL), "/")
	return &Client{Config: cfg, Now: time.Now}
}

// CheckoutURLs carries caller-supplied redirect targets.
type CheckoutURLs struct {
	ReturnURL      string
	ClientBackURL  string
	OrderResultURL string
}

// CheckoutRequest is a signed, submittable payment request. Params must
// not be mutated after construction or the signature becomes invalid.
type CheckoutRequest struct {
	Action string
	Params map[string]string
}

// BuildCheckout produces the signed parameter set for the gateway's
// checkout endpoint. The trade date is the local generation time.
func (c *Client) BuildCheckout(orderNumber, itemName string, amount int64, urls CheckoutURLs) (CheckoutRequest, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return CheckoutRequest{}, errors.New("ecpay: order number is required")
	}
	if len(orderNumber) > maxTradeNoLen {
		return CheckoutRequest{}, errors.New("ecpay: order number exceeds 20 characters")
	}
	if amount <= 0 {
		return CheckoutRequest{}, errors.New("ecpay: amount must be positive")
	}
	if strings.TrimSpace(urls.ReturnURL) == "" {
		return CheckoutRequest{}, errors.New("ecpay: return url is required")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	params := map[string]string{
		"MerchantID":        c.Config.MerchantID,
		"MerchantTradeNo":   orderNumber,
		"MerchantTradeDate": now().Format("2006-01-02 15:04:05"),
		"PaymentType":       paymentType,
		"TotalAmount":       strconv.FormatInt(amount, 10),
		"TradeDesc":         tradeDesc,
		"ItemName":          itemName,
		"ReturnURL":         urls.ReturnURL,
		"ChoosePayment":     choosePayment,
		"EncryptType":       encryptType,
	}
	if urls.ClientBackURL != "" {
		params["ClientBackURL"] = urls.ClientBackURL
	}
	if urls.OrderResultURL != "" {
		params["OrderResultURL"] = urls.OrderResultURL
	}
	params[macField] = ComputeMAC(params, c.Config.HashKey, c.Config.HashIV)

	return CheckoutRequest{
		Action: c.Config.ServiceURL + checkoutPath,
		Params: params,
	}, nil
}

var checkoutFormTmpl = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Redirecting to payment...</title>
</head>
<body>
    <p>You are being redirected to the payment page.</p>
    <form id="ecpayForm" method="post" action="{{.Action}}">
        {{- range $name, $value := .Params }}
        <input type="hidden" name="{{$name}}" value="{{$value}}">
        {{- end }}
        <button type="submit">Continue to payment</button>
    </form>
    <script>
        setTimeout(function() {
            document.getElementById('ecpayForm').submit();
        }, 1000);
    </script>
</body>
</html>
`))

// CheckoutFormHTML renders the auto-submitting payment form for the
// browser redirect leg of the flow.
func CheckoutFormHTML(req CheckoutRequest) (string, error) {
	var b strings.Builder
	if err := checkoutFormTmpl.Execute(&b, req); err != nil {
		return "", err
	}
	return b.String(), nil
}
