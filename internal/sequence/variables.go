package sequence

import (
	"fmt"

	"github.com/ignite/sequence-engine/internal/domain"
)

// Standard substitution variable names available to every sequence email.
const (
	VarFirstName      = "first_name"
	VarLastName       = "last_name"
	VarName           = "name"
	VarEmail          = "email"
	VarSequenceName   = "sequence_name"
	VarStepName       = "step_name"
	VarUnsubscribeURL = "unsubscribe_url"
)

// BuildVariables assembles the substitution map for an email step.
// Custom fields form the base layer, the standard variables override them,
// and template-defined variables override everything.
func BuildVariables(sub *domain.Subscriber, seq *domain.Sequence, step *domain.SequenceStep, tpl *domain.Template, unsubscribeURL string) map[string]string {
	vars := make(map[string]string)

	if sub != nil {
		for k, v := range sub.CustomFields {
			if v == nil {
				continue
			}
			vars[k] = fmt.Sprint(v)
		}
		vars[VarFirstName] = sub.FirstName
		vars[VarLastName] = sub.LastName
		vars[VarName] = sub.FullName()
		vars[VarEmail] = sub.Email
	}
	if seq != nil {
		vars[VarSequenceName] = seq.Name
	}
	if step != nil {
		vars[VarStepName] = step.Name
	}
	vars[VarUnsubscribeURL] = unsubscribeURL

	if tpl != nil {
		for k, v := range tpl.Variables {
			vars[k] = v
		}
	}
	return vars
}
