package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field names accepted by revisions and workflow rules.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldClientID     = "client_id"
	FieldItems        = "items"
	FieldTerms        = "terms"
	FieldNotes        = "notes"
	FieldCurrency     = "currency"
	FieldTaxRate      = "tax_rate"
	FieldDiscountRate = "discount_rate"
	FieldValidFrom    = "valid_from"
	FieldValidUntil   = "valid_until"
	FieldPriority     = "priority"
)

// PatchableFields is the allow-list of fields a revision may change.
var PatchableFields = []string{
	FieldTitle, FieldDescription, FieldItems, FieldTerms, FieldNotes, FieldCurrency,
	FieldTaxRate, FieldDiscountRate, FieldValidFrom, FieldValidUntil, FieldPriority,
}

// KnownFields may be named as required fields of a workflow rule.
var KnownFields = append([]string{FieldClientID}, PatchableFields...)

func IsPatchable(field string) bool {
	return contains(PatchableFields, field)
}

func IsKnownField(field string) bool {
	return contains(KnownFields, field)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// HasField reports whether the named field is non-empty.
func (q Quotation) HasField(field string) bool {
	switch field {
	case FieldTitle:
		return strings.TrimSpace(q.Title) != ""
	case FieldDescription:
		return strings.TrimSpace(q.Description) != ""
	case FieldClientID:
		return strings.TrimSpace(q.ClientID) != ""
	case FieldItems:
		return len(q.Items) > 0
	case FieldTerms:
		return strings.TrimSpace(q.Terms) != ""
	case FieldNotes:
		return strings.TrimSpace(q.Notes) != ""
	case FieldCurrency:
		return q.Currency != ""
	case FieldTaxRate:
		return q.TaxRate != 0
	case FieldDiscountRate:
		return q.DiscountRate != 0
	case FieldValidFrom:
		return q.ValidFrom != nil
	case FieldValidUntil:
		return q.ValidUntil != nil
	case FieldPriority:
		return q.Priority != ""
	}
	return false
}

// FieldValue returns the JSON encoding of the named patchable field.
func (q Quotation) FieldValue(field string) (json.RawMessage, error) {
	var v any
	switch field {
	case FieldTitle:
		v = q.Title
	case FieldDescription:
		v = q.Description
	case FieldItems:
		v = q.Items
	case FieldTerms:
		v = q.Terms
	case FieldNotes:
		v = q.Notes
	case FieldCurrency:
		v = q.Currency
	case FieldTaxRate:
		v = q.TaxRate
	case FieldDiscountRate:
		v = q.DiscountRate
	case FieldValidFrom:
		v = q.ValidFrom
	case FieldValidUntil:
		v = q.ValidUntil
	case FieldPriority:
		v = q.Priority
	default:
		return nil, fmt.Errorf("field %q is not patchable", field)
	}
	return json.Marshal(v)
}

// ApplyChange decodes the new value against the field's concrete type and
// assigns it. Unknown fields are rejected.
func (q *Quotation) ApplyChange(fc FieldChange) error {
	raw := fc.NewValue
	if len(raw) == 0 {
		return fmt.Errorf("field %s: new value required", fc.Field)
	}
	var err error
	switch fc.Field {
	case FieldTitle:
		err = json.Unmarshal(raw, &q.Title)
	case FieldDescription:
		err = json.Unmarshal(raw, &q.Description)
	case FieldItems:
		var items []LineItem
		if err = json.Unmarshal(raw, &items); err == nil {
			q.Items = items
		}
	case FieldTerms:
		err = json.Unmarshal(raw, &q.Terms)
	case FieldNotes:
		err = json.Unmarshal(raw, &q.Notes)
	case FieldCurrency:
		err = json.Unmarshal(raw, &q.Currency)
	case FieldTaxRate:
		err = json.Unmarshal(raw, &q.TaxRate)
	case FieldDiscountRate:
		err = json.Unmarshal(raw, &q.DiscountRate)
	case FieldValidFrom:
		q.ValidFrom, err = decodeTime(raw)
	case FieldValidUntil:
		q.ValidUntil, err = decodeTime(raw)
	case FieldPriority:
		err = json.Unmarshal(raw, &q.Priority)
	default:
		return fmt.Errorf("field %q is not patchable", fc.Field)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", fc.Field, err)
	}
	return nil
}

func decodeTime(raw json.RawMessage) (*time.Time, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
