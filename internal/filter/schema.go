// internal/filter/schema.go
package filter

import "github.com/cultivar-crm/cultivar/internal/types"

/*
 * Field schema registry.
 *
 * A Schema declares the typed vocabulary a filter set or condition group may
 * reference: donor fields for segments, event-kind-specific fields for
 * trigger rules. Compile rejects clauses naming fields outside the schema,
 * so unknown-field errors surface at authoring time.
 *
 * The vocabularies are fixed at build time. Custom donor fields would be a
 * schema-source abstraction; nothing in the product requires it yet.
 */

// Schema maps field names to their declared types.
type Schema map[types.FieldName]types.FieldType

// TypeOf returns the declared type for name and whether it is declared.
func (s Schema) TypeOf(name types.FieldName) (types.FieldType, bool) {
	ft, ok := s[name]
	return ft, ok
}

// DonorSchema returns the donor record vocabulary used by segment filters.
func DonorSchema() Schema {
	return Schema{
		"first_name":       types.FieldText,
		"last_name":        types.FieldText,
		"email":            types.FieldText,
		"phone":            types.FieldText,
		"city":             types.FieldText,
		"state":            types.FieldSelect,
		"donor_type":       types.FieldSelect,
		"status":           types.FieldSelect,
		"acquisition":      types.FieldSelect,
		"total_giving":     types.FieldCurrency,
		"largest_gift":     types.FieldCurrency,
		"last_gift_amount": types.FieldCurrency,
		"gift_count":       types.FieldNumber,
		"pledge_balance":   types.FieldCurrency,
		"first_gift_date":  types.FieldDate,
		"last_gift_date":   types.FieldDate,
		"created_date":     types.FieldDate,
	}
}

// EventSchema returns the payload vocabulary for one event kind. Trigger
// rule condition rows are validated against the schema of the kind their
// rule binds to.
func EventSchema(kind types.EventKind) (Schema, bool) {
	switch kind {
	case types.EventGift:
		return Schema{
			"amount":       types.FieldCurrency,
			"fund":         types.FieldSelect,
			"gift_method":  types.FieldSelect,
			"gift_date":    types.FieldDate,
			"is_recurring": types.FieldSelect,
			"campaign":     types.FieldText,
		}, true
	case types.EventPledge:
		return Schema{
			"pledge_amount":  types.FieldCurrency,
			"pledge_status":  types.FieldSelect,
			"installments":   types.FieldNumber,
			"start_date":     types.FieldDate,
			"next_due_date":  types.FieldDate,
			"pledge_balance": types.FieldCurrency,
		}, true
	case types.EventTask:
		return Schema{
			"task_type":     types.FieldSelect,
			"task_status":   types.FieldSelect,
			"priority":      types.FieldSelect,
			"assignee":      types.FieldText,
			"scheduled_for": types.FieldDate,
			"completed_at":  types.FieldDate,
		}, true
	case types.EventAction:
		return Schema{
			"action_type": types.FieldSelect,
			"action_date": types.FieldDate,
			"outcome":     types.FieldSelect,
			"notes":       types.FieldText,
		}, true
	default:
		return nil, false
	}
}
