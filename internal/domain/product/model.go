package product

type Category string

const (
	CategoryLicense    Category = "license"
	CategoryTraining   Category = "training"
	CategoryConsulting Category = "consulting"
	CategoryBundle     Category = "bundle"
	CategoryAddon      Category = "addon"
)

type Edition string

const (
	EditionBasic        Edition = "basic"
	EditionProfessional Edition = "professional"
	EditionEnterprise   Edition = "enterprise"
	EditionFundamentals Edition = "fundamentals"
	EditionAdvanced     Edition = "advanced"
	EditionTeam         Edition = "team"
	EditionStarter      Edition = "starter"
	EditionPremium      Edition = "premium"
	EditionOnsite       Edition = "onsite"
	EditionStartup      Edition = "startup"
)

type Term string

const (
	TermAnnual      Term = "annual"
	TermMonthly     Term = "monthly"
	TermSingleSeat  Term = "single_seat"
	TermSingleDay   Term = "single_day"
	TermHoursBlock  Term = "hours_block"
	TermTeamPackage Term = "team_package"
)

type DeliverableKind string

const (
	DeliverableLicenseKey DeliverableKind = "license_key"
	DeliverableAccessLink DeliverableKind = "access_link"
	DeliverableScheduling DeliverableKind = "scheduling"
)

type Deliverable struct {
	Kind     DeliverableKind `yaml:"kind" json:"kind"`
	MaxUsers int             `yaml:"max_users" json:"max_users"`
}

// Product is a read-only catalog entry. Licenses copy the descriptive
// fields at issuance time, so later catalog edits never reach them.
type Product struct {
	SKU         string      `yaml:"sku" json:"sku"`
	Name        string      `yaml:"name" json:"name"`
	Category    Category    `yaml:"category" json:"category"`
	Edition     Edition     `yaml:"edition" json:"edition"`
	Term        Term        `yaml:"term" json:"term"`
	Digital     bool        `yaml:"digital" json:"digital"`
	Features    []string    `yaml:"features" json:"features"`
	Deliverable Deliverable `yaml:"deliverable" json:"deliverable"`
	Price       float64     `yaml:"price" json:"price"`
	Currency    string      `yaml:"currency" json:"currency"`
}

// IssuesLicenseKey reports whether buying the product yields a license record.
func (p *Product) IssuesLicenseKey() bool {
	return p.Digital && p.Deliverable.Kind == DeliverableLicenseKey
}
