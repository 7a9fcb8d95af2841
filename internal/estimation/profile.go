package estimation

// Category is the attack category a finding type belongs to.
type Category string

const (
	CategorySiteCompromise  Category = "site_compromise"
	CategoryDataBreach      Category = "data_breach"
	CategoryFinancialFraud  Category = "financial_fraud"
	CategoryResourceAbuse   Category = "resource_abuse"
	CategoryLegalCompliance Category = "legal_compliance"
	CategoryBrandDamage     Category = "brand_damage"
)

// Profile holds the base figures of a finding type. A DailyBase above zero
// marks a daily-rated type whose daily cost does not derive from the annual one.
type Profile struct {
	BaseCost   float64
	Confidence float64
	Category   Category
	DailyBase  float64
}

func (p Profile) DailyRated() bool {
	return p.DailyBase > 0
}

var defaultProfile = Profile{BaseCost: 10000, Confidence: 0.5, Category: CategorySiteCompromise}

var profiles = map[string]Profile{
	"exposed_database":          {BaseCost: 50000, Confidence: 0.8, Category: CategorySiteCompromise},
	"exposed_admin_panel":       {BaseCost: 25000, Confidence: 0.6, Category: CategorySiteCompromise},
	"vulnerable_software":       {BaseCost: 20000, Confidence: 0.5, Category: CategorySiteCompromise},
	"missing_security_headers":  {BaseCost: 3000, Confidence: 0.5, Category: CategorySiteCompromise},
	"tls_misconfiguration":      {BaseCost: 8000, Confidence: 0.6, Category: CategoryDataBreach},
	"client_secret_exposure":    {BaseCost: 75000, Confidence: 0.7, Category: CategoryDataBreach},
	"high_entropy_token":        {BaseCost: 15000, Confidence: 0.4, Category: CategoryDataBreach},
	"open_cloud_storage":        {BaseCost: 40000, Confidence: 0.7, Category: CategoryDataBreach},
	"payment_form_tampering":    {BaseCost: 60000, Confidence: 0.6, Category: CategoryFinancialFraud},
	"email_spoofing":            {BaseCost: 35000, Confidence: 0.6, Category: CategoryFinancialFraud},
	"missing_privacy_policy":    {BaseCost: 20000, Confidence: 0.6, Category: CategoryLegalCompliance},
	"tracking_without_consent":  {BaseCost: 25000, Confidence: 0.5, Category: CategoryLegalCompliance},
	"lookalike_domain":          {BaseCost: 30000, Confidence: 0.5, Category: CategoryBrandDamage},
	"defacement":                {BaseCost: 45000, Confidence: 0.7, Category: CategoryBrandDamage},
	"compute_abuse":             {BaseCost: 25000, Confidence: 0.6, Category: CategoryResourceAbuse, DailyBase: 250},
	"open_email_relay":          {BaseCost: 10000, Confidence: 0.6, Category: CategoryResourceAbuse, DailyBase: 100},
	"unmetered_api_key_exposed": {BaseCost: 50000, Confidence: 0.6, Category: CategoryResourceAbuse, DailyBase: 500},
}

// ProfileFor returns the profile of a finding type. Unmapped types get the
// site compromise default.
func ProfileFor(findingType string) Profile {
	if p, ok := profiles[findingType]; ok {
		return p
	}
	return defaultProfile
}
