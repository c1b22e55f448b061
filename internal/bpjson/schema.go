// Package bpjson implements the bp.json schema validator (spec.md §4.9)
// and the location validator (spec.md §4.10). No teacher/pack analog
// exists for field-by-field document validation; this is built directly
// from the spec's field table.
package bpjson

import (
	"context"
	"net"
	"strings"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/urlvalidator"
)

// Document is the parsed bp.json shape this validator reads fields from.
// Only the fields spec.md §4.9 names are represented; everything else
// (e.g. nodes[], consumed by internal/nodes) passes through untouched.
type Document struct {
	ProducerAccountName string          `json:"producer_account_name"`
	ProducerPublicKey   string          `json:"producer_public_key"`
	Org                 Org             `json:"org"`
}

type Org struct {
	CandidateName       string            `json:"candidate_name"`
	Email               string            `json:"email"`
	Website             string            `json:"website"`
	CodeOfConduct       string            `json:"code_of_conduct"`
	OwnershipDisclosure string            `json:"ownership_disclosure"`
	Branding            Branding          `json:"branding"`
	Location            Location          `json:"location"`
	Social              map[string]string `json:"social"`
}

type Branding struct {
	Logo256  string `json:"logo_256"`
	Logo1024 string `json:"logo_1024"`
	LogoSVG  string `json:"logo_svg"`
}

type Location struct {
	Country   string  `json:"country"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validator checks a parsed bp.json document against the owning BP's
// on-chain account name and probes every referenced URL.
type Validator struct {
	urls   *urlvalidator.Validator
	social config.SocialConfig
}

func New(urls *urlvalidator.Validator, social config.SocialConfig) *Validator {
	return &Validator{urls: urls, social: social}
}

// CheckResult reports whether post-schema checks (aloha, nodes, on-chain
// reconciliation) should proceed, per spec.md §4.9's "mismatch => crit,
// and all subsequent post-schema checks are skipped".
type CheckResult struct {
	Proceed bool
	Name    string // org.candidate_name, surfaced to info.name (spec.md §6)
}

// Check runs the full §4.9 field-by-field validation, filing every probed
// URL's resource entry into out.
func (v *Validator) Check(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, doc Document, regproducerOwner string) CheckResult {
	if doc.ProducerAccountName != regproducerOwner {
		rec.Add(findings.Crit, "bp.json producer_account_name does not match on-chain owner", findings.ClassBPJSON, map[string]interface{}{
			"bpjson_owner": doc.ProducerAccountName, "regproducer_owner": regproducerOwner,
		})
		return CheckResult{Proceed: false}
	}

	v.checkOrgField(ctx, rec, out, "candidate_name", doc.Org.CandidateName)
	v.checkEmail(ctx, rec, doc.Org.Email)
	v.checkOrgField(ctx, rec, out, "website", doc.Org.Website)
	v.checkOrgField(ctx, rec, out, "code_of_conduct", doc.Org.CodeOfConduct)
	v.checkOrgField(ctx, rec, out, "ownership_disclosure", doc.Org.OwnershipDisclosure)

	v.checkBranding(ctx, rec, out, doc.Org.Branding)

	NewLocationValidator(config.ChainProfile{}).Validate(rec, doc.Org.Location, doc.Org.CandidateName)

	v.checkSocial(ctx, rec, out, doc.Org.Social)

	if doc.ProducerPublicKey != "" {
		rec.Add(findings.Info, "producer_public_key is deprecated", findings.ClassBPJSON, map[string]interface{}{
			"producer_public_key": doc.ProducerPublicKey,
		})
	}

	return CheckResult{Proceed: true, Name: doc.Org.CandidateName}
}

func (v *Validator) checkOrgField(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, field, rawURL string) {
	if rawURL == "" {
		rec.Add(findings.Err, "org."+field+" is missing", findings.ClassOrg, nil)
		return
	}
	outcome := v.urls.Validate(ctx, rec, rawURL, urlvalidator.Options{
		SSL:          urlvalidator.SSLEither,
		ContentType:  urlvalidator.ContentHTML,
		Class:        findings.ClassOrg,
		AddToList:    "org/" + field,
		ProbeOptions: v.urls.OrgProbeOptions(),
	})
	urlvalidator.AddToOutput(out, outcome.Output)
}

func (v *Validator) checkEmail(ctx context.Context, rec *findings.Recorder, email string) {
	if email == "" {
		rec.Add(findings.Err, "org.email is missing", findings.ClassOrg, nil)
		return
	}
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		rec.Add(findings.Err, "org.email is not a well-formed address", findings.ClassOrg, map[string]interface{}{"email": email})
		return
	}
	if _, err := net.LookupMX(parts[1]); err != nil {
		rec.Add(findings.Warn, "org.email domain has no MX record", findings.ClassOrg, map[string]interface{}{"email": email})
		return
	}
	rec.Add(findings.OK, "org.email domain has an MX record", findings.ClassOrg, map[string]interface{}{"email": email})
}

func (v *Validator) checkBranding(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, b Branding) {
	probeOpts := v.urls.OrgProbeOptions()
	if b.Logo256 != "" {
		outcome := v.urls.Validate(ctx, rec, b.Logo256, urlvalidator.Options{SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentImage, Class: findings.ClassOrg, AddToList: "org/branding_256", ProbeOptions: probeOpts})
		urlvalidator.AddToOutput(out, outcome.Output)
	}
	if b.Logo1024 != "" {
		outcome := v.urls.Validate(ctx, rec, b.Logo1024, urlvalidator.Options{SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentImage, Class: findings.ClassOrg, AddToList: "org/branding_1024", ProbeOptions: probeOpts})
		urlvalidator.AddToOutput(out, outcome.Output)
	}
	if b.LogoSVG != "" {
		outcome := v.urls.Validate(ctx, rec, b.LogoSVG, urlvalidator.Options{SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentSVG, Class: findings.ClassOrg, AddToList: "org/branding_svg", ProbeOptions: probeOpts})
		urlvalidator.AddToOutput(out, outcome.Output)
	}
}

func (v *Validator) checkSocial(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, social map[string]string) {
	allowed := make(map[string]bool, len(v.social.AllowedKeys))
	for _, k := range v.social.AllowedKeys {
		allowed[k] = true
	}

	validCount := 0
	for key, value := range social {
		if !allowed[key] {
			rec.Add(findings.Err, "org.social has an unknown key", findings.ClassOrg, map[string]interface{}{"key": key})
			continue
		}
		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			rec.Add(findings.Err, "org.social value must be relative, not an absolute URL", findings.ClassOrg, map[string]interface{}{"key": key, "value": value})
			continue
		}
		if strings.HasPrefix(value, "@") {
			rec.Add(findings.Err, "org.social value must not begin with @", findings.ClassOrg, map[string]interface{}{"key": key, "value": value})
			continue
		}

		prefix, hasPrefix := v.social.Prefixes[key]
		if !hasPrefix {
			// wechat, reddit: accepted as-is.
			rec.Add(findings.OK, "org.social value accepted", findings.ClassOrg, map[string]interface{}{"key": key, "value": value})
			validCount++
			continue
		}

		url := prefix + value
		if key == "keybase" && !strings.HasSuffix(url, "/") {
			url += "/"
		}
		outcome := v.urls.Validate(ctx, rec, url, urlvalidator.Options{
			SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentHTML,
			Class: findings.ClassOrg, AddToList: "org/social_" + key,
			ProbeOptions: v.urls.OrgProbeOptions(),
		})
		urlvalidator.AddToOutput(out, outcome.Output)
		if outcome.Success {
			validCount++
		}
	}

	if validCount < 4 {
		rec.Add(findings.Err, "fewer than 4 valid social references", findings.ClassOrg, map[string]interface{}{"valid_count": validCount})
	}
}
