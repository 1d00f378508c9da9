package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// InvoiceExtraction is the structured data the extraction service returns
// for one invoice. Field names follow the service's wire format.
type InvoiceExtraction struct {
	InvoiceNumber Text       `json:"Invoice_Number,omitempty" msgpack:"Invoice_Number,omitempty"`
	InvoiceDate   Text       `json:"Invoice_Date,omitempty" msgpack:"Invoice_Date,omitempty"`
	VendorName    Text       `json:"Vendor_Name,omitempty" msgpack:"Vendor_Name,omitempty"`
	VendorGSTIN   Text       `json:"Vendor_GSTIN,omitempty" msgpack:"Vendor_GSTIN,omitempty"`
	BuyerName     Text       `json:"Buyer_Name,omitempty" msgpack:"Buyer_Name,omitempty"`
	Items         []LineItem `json:"Items,omitempty" msgpack:"Items,omitempty"`
}

// LineItem is one row of an invoice.
type LineItem struct {
	Description Text   `json:"Items,omitempty" msgpack:"Items,omitempty"`
	Qty         Amount `json:"Qty" msgpack:"Qty"`
	Rate        Amount `json:"Rate" msgpack:"Rate"`
}

// ExtractionOutcome is a successful extraction: the invoice data plus the
// content hash the service assigned to the processed file.
type ExtractionOutcome struct {
	Data     InvoiceExtraction `json:"data"`
	FileHash string            `json:"file_hash"`
}

// Text is a free-form field of the extraction. The service is not strict
// about types, so numbers and other literals are accepted and kept as their
// JSON text. null and false decode to the empty string.
type Text string

func (t Text) String() string {
	return string(t)
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case data[0] == '{' || data[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*t = Text(buf.String())
	default:
		*t = Text(data)
	}
	return nil
}

// Amount is a quantity or rate as sent by the service. The service may
// encode it as a JSON number, a string or free text. Raw is the text shown
// to the user: the string exactly as sent, or the normalized number. Value
// holds the number when there is one.
type Amount struct {
	Raw   string
	Value decimal.NullDecimal
	// quoted records that the service sent a string, whose emptiness, not
	// numeric value, decides whether it is shown.
	quoted bool
}

// NewAmount returns a numeric Amount.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Raw: d.String(), Value: decimal.NewNullDecimal(d)}
}

// ParseAmount keeps s verbatim and also interprets it as a number when
// possible.
func ParseAmount(s string) Amount {
	if s == "" {
		return Amount{}
	}
	a := Amount{Raw: s, quoted: true}
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		a.Value = decimal.NewNullDecimal(d)
	}
	return a
}

// IsZero reports whether the amount is left out of a summary: absent, an
// empty string, or a numeric zero that was sent as a number.
func (a Amount) IsZero() bool {
	if a.quoted || !a.Value.Valid {
		return a.Raw == ""
	}
	return a.Value.Decimal.IsZero()
}

func (a Amount) String() string {
	if a.Raw == "" && a.Value.Valid {
		return a.Value.Decimal.String()
	}
	return a.Raw
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("false")) {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ParseAmount(s)
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		// other literals are kept verbatim
		*a = Amount{Raw: string(data)}
		return nil
	}
	*a = NewAmount(d)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	switch {
	case a.quoted || (!a.Value.Valid && a.Raw != ""):
		return json.Marshal(a.Raw)
	case a.Value.Valid:
		return []byte(a.Value.Decimal.String()), nil
	default:
		return []byte("null"), nil
	}
}

var (
	_ msgpack.CustomEncoder = Amount{}
	_ msgpack.CustomDecoder = (*Amount)(nil)
)

// EncodeMsgpack writes strings as strings and numbers as their decimal
// text wrapped in a one-element array, so decoding restores both forms.
func (a Amount) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch {
	case a.quoted || (!a.Value.Valid && a.Raw != ""):
		return enc.EncodeString(a.Raw)
	case a.Value.Valid:
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return enc.EncodeString(a.Value.Decimal.String())
	default:
		return enc.EncodeNil()
	}
}

func (a *Amount) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*a = Amount{}
	case string:
		*a = ParseAmount(v)
	case []interface{}:
		if len(v) != 1 {
			return fmt.Errorf("decoding amount: unexpected array of %d", len(v))
		}
		s, ok := v[0].(string)
		if !ok {
			return fmt.Errorf("decoding amount: unexpected %T", v[0])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("decoding amount: %w", err)
		}
		*a = NewAmount(d)
	default:
		return fmt.Errorf("decoding amount: unexpected %T", v)
	}
	return nil
}
