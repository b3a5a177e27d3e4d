package desired

import "time"

// System names understood by the loader. Every connector registers under one of these.
const (
	SystemBilling  = "billing"
	SystemDatabase = "database"
	SystemEmail    = "email"
	SystemGitHub   = "github"
	SystemHosting  = "hosting"
	SystemSecrets  = "secrets"
	SystemStorage  = "storage"
)

// Systems lists every known system in sorted order.
var Systems = []string{SystemBilling, SystemDatabase, SystemEmail, SystemGitHub, SystemHosting, SystemSecrets, SystemStorage}

// State is the declarative desired-state document. A nil section means the
// operator declared nothing for that system.
type State struct {
	Version  string        `yaml:"version" toml:"version" validate:"required,semver"`
	Database *DatabaseSpec `yaml:"database,omitempty" toml:"database,omitempty" validate:"omitempty"`
	Storage  *StorageSpec  `yaml:"storage,omitempty" toml:"storage,omitempty" validate:"omitempty"`
	Billing  *BillingSpec  `yaml:"billing,omitempty" toml:"billing,omitempty" validate:"omitempty"`
	GitHub   *GitHubSpec   `yaml:"github,omitempty" toml:"github,omitempty" validate:"omitempty"`
	Hosting  *HostingSpec  `yaml:"hosting,omitempty" toml:"hosting,omitempty" validate:"omitempty"`
	Email    *EmailSpec    `yaml:"email,omitempty" toml:"email,omitempty" validate:"omitempty"`
	Secrets  *SecretsSpec  `yaml:"secrets,omitempty" toml:"secrets,omitempty" validate:"omitempty"`
}

// DatabaseSpec lists required tables and their columns.
type DatabaseSpec struct {
	Schema string  `yaml:"schema,omitempty" toml:"schema,omitempty" validate:"omitempty,sqlident"`
	Tables []Table `yaml:"tables" toml:"tables" validate:"dive"`
}

// Table is one required relation.
type Table struct {
	Name     string   `yaml:"name" toml:"name" validate:"required,sqlident"`
	Columns  []Column `yaml:"columns" toml:"columns" validate:"dive"`
	Critical *bool    `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// Column is one required column. Type is informational and used when
// generating migrations.
type Column struct {
	Name string `yaml:"name" toml:"name" validate:"required,sqlident"`
	Type string `yaml:"type,omitempty" toml:"type,omitempty" validate:"omitempty,max=64"`
}

// StorageSpec lists required buckets.
type StorageSpec struct {
	Buckets []Bucket `yaml:"buckets" toml:"buckets" validate:"dive"`
}

// Bucket is a required object-storage bucket.
type Bucket struct {
	Name             string   `yaml:"name" toml:"name" validate:"required,identifier"`
	Public           bool     `yaml:"public" toml:"public"`
	FileSizeLimit    int64    `yaml:"file_size_limit,omitempty" toml:"file_size_limit,omitempty" validate:"min=0"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types,omitempty" toml:"allowed_mime_types,omitempty" validate:"dive,required"`
	Critical         *bool    `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// BillingSpec lists prices and webhook endpoints expected in the payments system.
type BillingSpec struct {
	Prices   []Price   `yaml:"prices" toml:"prices" validate:"dive"`
	Webhooks []Webhook `yaml:"webhooks" toml:"webhooks" validate:"dive"`
}

// Price is a required price identifier and its terms.
type Price struct {
	ID         string `yaml:"id" toml:"id" validate:"required,startswith=price_"`
	UnitAmount int64  `yaml:"unit_amount,omitempty" toml:"unit_amount,omitempty" validate:"min=0"`
	Currency   string `yaml:"currency,omitempty" toml:"currency,omitempty" validate:"omitempty,len=3,lowercase"`
	Interval   string `yaml:"interval,omitempty" toml:"interval,omitempty" validate:"omitempty,oneof=day week month year"`
	Critical   *bool  `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// Webhook is a required webhook endpoint with the events it must receive.
type Webhook struct {
	URL    string   `yaml:"url" toml:"url" validate:"required,url,startswith=https://"`
	Events []string `yaml:"events" toml:"events" validate:"required,min=1,dive,required"`
}

// GitHubSpec describes repository labels and branch protection.
type GitHubSpec struct {
	Owner            string             `yaml:"owner" toml:"owner" validate:"required,identifier"`
	Repo             string             `yaml:"repo" toml:"repo" validate:"required,identifier"`
	Labels           []Label            `yaml:"labels" toml:"labels" validate:"dive"`
	BranchProtection []BranchProtection `yaml:"branch_protection" toml:"branch_protection" validate:"dive"`
}

// Label is a required issue label.
type Label struct {
	Name        string `yaml:"name" toml:"name" validate:"required,max=50"`
	Color       string `yaml:"color" toml:"color" validate:"required,labelcolor"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty" validate:"max=100"`
	Critical    *bool  `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// BranchProtection is the required rule set for one branch.
type BranchProtection struct {
	Branch               string   `yaml:"branch" toml:"branch" validate:"required,max=255"`
	RequiredReviews      int      `yaml:"required_reviews" toml:"required_reviews" validate:"min=0,max=6"`
	RequiredStatusChecks []string `yaml:"required_status_checks,omitempty" toml:"required_status_checks,omitempty" validate:"dive,required"`
	EnforceAdmins        bool     `yaml:"enforce_admins" toml:"enforce_admins"`
}

// HostingSpec describes deployment platform env vars and crons.
type HostingSpec struct {
	Env   []EnvVar `yaml:"env" toml:"env" validate:"dive"`
	Crons []Cron   `yaml:"crons" toml:"crons" validate:"dive"`
}

// EnvVar is a required environment-variable key and the targets it must exist in.
type EnvVar struct {
	Key      string   `yaml:"key" toml:"key" validate:"required,envkey"`
	Targets  []string `yaml:"targets" toml:"targets" validate:"required,min=1,dive,oneof=production preview development"`
	Critical *bool    `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// Cron is a required scheduled invocation.
type Cron struct {
	Path     string `yaml:"path" toml:"path" validate:"required,startswith=/"`
	Schedule string `yaml:"schedule" toml:"schedule" validate:"required,cron"`
}

// EmailSpec lists sending domains and sender identities.
type EmailSpec struct {
	Domains []Domain `yaml:"domains" toml:"domains" validate:"dive"`
	Senders []string `yaml:"senders,omitempty" toml:"senders,omitempty" validate:"dive,email"`
}

// Domain is a sending domain that must be verified.
type Domain struct {
	Name     string `yaml:"name" toml:"name" validate:"required,fqdn"`
	Critical *bool  `yaml:"critical,omitempty" toml:"critical,omitempty"`
}

// SecretsSpec lists systems whose API key must be present.
type SecretsSpec struct {
	Required []string `yaml:"required" toml:"required" validate:"dive,system"`
}

// IsCritical resolves an optional critical flag; entries are critical unless
// explicitly marked otherwise.
func IsCritical(flag *bool) bool {
	return flag == nil || *flag
}

// Duration is a time.Duration decoded from strings such as "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML and TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
