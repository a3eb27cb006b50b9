// Package telephony wraps the Twilio REST API used for number provisioning and SMS.
package telephony

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/client"
	"github.com/hallcall/hallcall-api/pkg/logger"
)

const VendorName = "twilio"

type Client struct {
	http       *client.HTTPClient
	accountSID string
	authToken  string
	logger     *zap.Logger
}

func NewClient(baseURL, accountSID, authToken string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &Client{
		http: client.NewHTTPClient(VendorName, baseURL, timeout, func(r *http.Request) {
			r.SetBasicAuth(accountSID, authToken)
		}),
		accountSID: accountSID,
		authToken:  authToken,
		logger:     log,
	}
}

func (c *Client) IsAvailable() bool {
	return c.accountSID != "" && c.authToken != ""
}

// AccountSID and AuthToken are handed to the voice vendor when importing numbers.
func (c *Client) AccountSID() string { return c.accountSID }
func (c *Client) AuthToken() string  { return c.authToken }

func (c *Client) path(format string, args ...interface{}) string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s", url.PathEscape(c.accountSID)) + fmt.Sprintf(format, args...)
}

func form(values url.Values) client.Request {
	return client.Request{
		Body:        strings.NewReader(values.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}
}

// AvailableNumber is a number that can be bought.
type AvailableNumber struct {
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	ISOCountry   string `json:"iso_country"`
	Capabilities struct {
		Voice bool `json:"voice"`
		SMS   bool `json:"SMS"`
	} `json:"capabilities"`
}

// SearchNumbers lists voice capable local numbers for a country.
func (c *Client) SearchNumbers(ctx context.Context, country, areaCode, contains string, limit int) ([]AvailableNumber, error) {
	if country == "" {
		country = "FR"
	}
	if limit <= 0 || limit > 30 {
		limit = 20
	}
	query := map[string]string{
		"VoiceEnabled": "true",
		"PageSize":     fmt.Sprint(limit),
		"AreaCode":     areaCode,
		"Contains":     contains,
	}

	var out struct {
		Numbers []AvailableNumber `json:"available_phone_numbers"`
	}
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   c.path("/AvailablePhoneNumbers/%s/Local.json", url.PathEscape(strings.ToUpper(country))),
		Query:  query,
	}, &out)
	return out.Numbers, err
}

// IncomingNumber is a number owned by the account.
type IncomingNumber struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
}

// BuyNumber purchases phoneNumber.
func (c *Client) BuyNumber(ctx context.Context, phoneNumber, friendlyName string) (*IncomingNumber, error) {
	req := form(url.Values{"PhoneNumber": {phoneNumber}, "FriendlyName": {friendlyName}})
	req.Method = http.MethodPost
	req.Path = c.path("/IncomingPhoneNumbers.json")

	var out IncomingNumber
	if err := c.http.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("Twilio number purchased", logger.MaskPhone("number", out.PhoneNumber), zap.String("sid", out.SID))
	return &out, nil
}

// ReleaseNumber gives a purchased number back.
func (c *Client) ReleaseNumber(ctx context.Context, sid string) error {
	return c.http.Do(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   c.path("/IncomingPhoneNumbers/%s.json", url.PathEscape(sid)),
	}, nil)
}

// Message is the Twilio view of an SMS.
type Message struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// SendSMS sends body from one of the account numbers. statusCallback may be empty.
func (c *Client) SendSMS(ctx context.Context, from, to, body, statusCallback string) (*Message, error) {
	values := url.Values{"From": {from}, "To": {to}, "Body": {body}}
	if statusCallback != "" {
		values.Set("StatusCallback", statusCallback)
	}
	req := form(values)
	req.Method = http.MethodPost
	req.Path = c.path("/Messages.json")

	var out Message
	if err := c.http.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
