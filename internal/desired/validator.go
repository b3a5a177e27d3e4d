package desired

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern     = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	sqlIdentPattern   = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	envKeyPattern     = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	labelColorPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)
	cronFieldPattern  = regexp.MustCompile(`^[0-9*/,\-]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
			return sqlIdentPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("envkey", func(fl validator.FieldLevel) bool {
			return envKeyPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("labelcolor", func(fl validator.FieldLevel) bool {
			return labelColorPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
			return IsCronSchedule(fl.Field().String())
		})
		_ = v.RegisterValidation("risk", func(fl validator.FieldLevel) bool {
			return model.Risk(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("system", func(fl validator.FieldLevel) bool {
			return IsSystem(fl.Field().String())
		})
		_ = v.RegisterValidation("relpath", func(fl validator.FieldLevel) bool {
			return IsSafeRelativePath(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// IsSystem reports whether name is a known system.
func IsSystem(name string) bool {
	for _, s := range Systems {
		if s == name {
			return true
		}
	}
	return false
}

// IsCronSchedule accepts five-field cron expressions built from digits, '*', '/', ',' and '-'.
func IsCronSchedule(expr string) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}
	for _, field := range fields {
		if !cronFieldPattern.MatchString(field) {
			return false
		}
	}
	return true
}

// IsSafeRelativePath rejects empty, absolute, backslashed, NUL-bearing or
// parent-traversing paths.
func IsSafeRelativePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	if strings.ContainsAny(p, "\x00\\") {
		return false
	}
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return false
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return false
		}
	}
	return path.Clean(p) != "."
}

// ValidateState performs schema and cross-entry validation. All problems are
// reported together.
func ValidateState(state *State) error {
	if state == nil {
		return reconerrors.NewValidationError("state", "desired state is nil", nil)
	}

	var result *multierror.Error
	if err := validatorInstance().Struct(state); err != nil {
		result = multierror.Append(result, convertValidationErrors(err)...)
	}

	if state.Database != nil {
		seen := map[string]struct{}{}
		for i, table := range state.Database.Tables {
			result = appendDuplicate(result, seen, table.Name, fmt.Sprintf("database.tables[%d].name", i))
			columns := map[string]struct{}{}
			for j, column := range table.Columns {
				result = appendDuplicate(result, columns, column.Name, fmt.Sprintf("database.tables[%d].columns[%d].name", i, j))
			}
		}
	}
	if state.Storage != nil {
		seen := map[string]struct{}{}
		for i, bucket := range state.Storage.Buckets {
			result = appendDuplicate(result, seen, bucket.Name, fmt.Sprintf("storage.buckets[%d].name", i))
		}
	}
	if state.Billing != nil {
		seen := map[string]struct{}{}
		for i, price := range state.Billing.Prices {
			result = appendDuplicate(result, seen, price.ID, fmt.Sprintf("billing.prices[%d].id", i))
		}
		urls := map[string]struct{}{}
		for i, hook := range state.Billing.Webhooks {
			result = appendDuplicate(result, urls, hook.URL, fmt.Sprintf("billing.webhooks[%d].url", i))
		}
	}
	if state.GitHub != nil {
		seen := map[string]struct{}{}
		for i, label := range state.GitHub.Labels {
			result = appendDuplicate(result, seen, strings.ToLower(label.Name), fmt.Sprintf("github.labels[%d].name", i))
		}
		branches := map[string]struct{}{}
		for i, rule := range state.GitHub.BranchProtection {
			result = appendDuplicate(result, branches, rule.Branch, fmt.Sprintf("github.branch_protection[%d].branch", i))
		}
	}
	if state.Hosting != nil {
		seen := map[string]struct{}{}
		for i, env := range state.Hosting.Env {
			result = appendDuplicate(result, seen, env.Key, fmt.Sprintf("hosting.env[%d].key", i))
		}
		paths := map[string]struct{}{}
		for i, cron := range state.Hosting.Crons {
			result = appendDuplicate(result, paths, cron.Path, fmt.Sprintf("hosting.crons[%d].path", i))
		}
	}
	if state.Email != nil {
		seen := map[string]struct{}{}
		for i, domain := range state.Email.Domains {
			result = appendDuplicate(result, seen, strings.ToLower(domain.Name), fmt.Sprintf("email.domains[%d].name", i))
		}
	}

	return result.ErrorOrNil()
}

// ValidatePolicy validates the approval policy and applies defaults.
func ValidatePolicy(policy *Policy) error {
	if policy == nil {
		return reconerrors.NewValidationError("policy", "policy is nil", nil)
	}

	var result *multierror.Error
	if err := validatorInstance().Struct(policy); err != nil {
		result = multierror.Append(result, convertValidationErrors(err)...)
	}

	seen := map[string]struct{}{}
	for i, rule := range policy.Rules {
		result = appendDuplicate(result, seen, rule.System+"/"+rule.Resource, fmt.Sprintf("rules[%d]", i))
		if rule.AutoApply && rule.Risk.Mandatory() && !rule.RequiresApproval {
			result = multierror.Append(result, reconerrors.NewValidationError(
				fmt.Sprintf("rules[%d].risk", i),
				fmt.Sprintf("risk %s requires approval and cannot be auto-applied without it", rule.Risk),
				nil,
			))
		}
	}
	if tol := policy.Approval.Tolerance.Duration; tol < 0 || tol > 15*time.Minute {
		result = multierror.Append(result, reconerrors.NewValidationError("approval.tolerance", "tolerance must be between 0 and 15m", nil))
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	policy.applyDefaults()
	return nil
}

func appendDuplicate(result *multierror.Error, seen map[string]struct{}, key, field string) *multierror.Error {
	if _, exists := seen[key]; exists {
		return multierror.Append(result, reconerrors.NewValidationError(field, fmt.Sprintf("duplicate entry %q", key), nil))
	}
	seen[key] = struct{}{}
	return result
}

func convertValidationErrors(err error) []error {
	if err == nil {
		return nil
	}

	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{reconerrors.NewValidationError("document", err.Error(), err)}
	}

	out := make([]error, 0, len(ves))
	for _, ve := range ves {
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		out = append(out, reconerrors.NewValidationError(field, msg, ve))
	}
	return out
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}
