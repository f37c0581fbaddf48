package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata keys attached to checkout sessions and their payment intents.
const (
	MetadataCaseID            = "case_id"
	MetadataClientID          = "client_id"
	MetadataInstallmentNumber = "installment_number"
	MetadataTotalInstallments = "total_installments"
	MetadataTotalPrice        = "total_price"
	MetadataServiceName       = "service_name"
	MetadataServiceSlug       = "service_slug"
	MetadataVariant           = "variant"
)

// MaxAmount is the largest amount, in minor units, accepted for a price or a single charge.
// It matches the gateway's eight-digit ceiling.
const MaxAmount int64 = 99_999_999

// ErrInvalidMetadata is returned when session metadata cannot describe an installment.
var ErrInvalidMetadata = errors.New("payments: invalid checkout metadata")

// CheckoutMetadata is everything the completion event needs to reconcile a payment. It is the
// only state carried from session creation to the webhook, so Encode and DecodeCheckoutMetadata
// must round-trip exactly.
type CheckoutMetadata struct {
	CaseID            string
	ClientID          string
	InstallmentNumber int
	TotalInstallments int
	TotalPrice        int64
	ServiceName       string
	ServiceSlug       string
	Variant           string
}

// Encode renders the metadata as gateway key/value pairs. Optional fields are omitted when empty.
func (m CheckoutMetadata) Encode() map[string]string {
	out := map[string]string{
		MetadataCaseID:            m.CaseID,
		MetadataClientID:          m.ClientID,
		MetadataInstallmentNumber: strconv.Itoa(m.InstallmentNumber),
		MetadataTotalInstallments: strconv.Itoa(m.TotalInstallments),
		MetadataTotalPrice:        strconv.FormatInt(m.TotalPrice, 10),
		MetadataServiceName:       m.ServiceName,
	}
	if m.ServiceSlug != "" {
		out[MetadataServiceSlug] = m.ServiceSlug
	}
	if m.Variant != "" {
		out[MetadataVariant] = m.Variant
	}
	return out
}

// IdempotencyKey derives the gateway idempotency key for one session attempt. The session
// expiry is part of the key: a double submit within the same second returns the same session,
// while a later retry carries a new expiry and opens a fresh session.
func (m CheckoutMetadata) IdempotencyKey(expiresAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("checkout|%s|%s|%d|%d|%d|%d",
		m.CaseID, m.ClientID, m.InstallmentNumber, m.TotalInstallments, m.TotalPrice, expiresAt.Unix())))
	return hex.EncodeToString(sum[:])
}

// DecodeCheckoutMetadata parses gateway metadata. Installment fields default to 1 when absent;
// present but malformed values are rejected.
func DecodeCheckoutMetadata(raw map[string]string) (CheckoutMetadata, error) {
	m := CheckoutMetadata{
		CaseID:      strings.TrimSpace(raw[MetadataCaseID]),
		ClientID:    strings.TrimSpace(raw[MetadataClientID]),
		ServiceName: raw[MetadataServiceName],
		ServiceSlug: raw[MetadataServiceSlug],
		Variant:     raw[MetadataVariant],
	}
	if m.CaseID == "" || m.ClientID == "" {
		return CheckoutMetadata{}, fmt.Errorf("%w: case_id and client_id are required", ErrInvalidMetadata)
	}

	var err error
	if m.InstallmentNumber, err = intField(raw, MetadataInstallmentNumber); err != nil {
		return CheckoutMetadata{}, err
	}
	if m.TotalInstallments, err = intField(raw, MetadataTotalInstallments); err != nil {
		return CheckoutMetadata{}, err
	}
	if m.InstallmentNumber > m.TotalInstallments {
		return CheckoutMetadata{}, fmt.Errorf("%w: installment %d exceeds plan of %d", ErrInvalidMetadata, m.InstallmentNumber, m.TotalInstallments)
	}

	price := strings.TrimSpace(raw[MetadataTotalPrice])
	m.TotalPrice, err = strconv.ParseInt(price, 10, 64)
	if err != nil || m.TotalPrice <= 0 || m.TotalPrice > MaxAmount {
		return CheckoutMetadata{}, fmt.Errorf("%w: total_price %q", ErrInvalidMetadata, price)
	}
	return m, nil
}

func intField(raw map[string]string, key string) (int, error) {
	value := strings.TrimSpace(raw[key])
	if value == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidMetadata, key, value)
	}
	return n, nil
}
