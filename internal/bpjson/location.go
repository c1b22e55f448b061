package bpjson

import (
	"strconv"
	"strings"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
)

// LocationValidator implements spec.md §4.10: the org.location object
// check plus the chain-specific numeric regproducer location check.
type LocationValidator struct {
	chain config.ChainProfile
}

func NewLocationValidator(chain config.ChainProfile) *LocationValidator {
	return &LocationValidator{chain: chain}
}

// iso3166Alpha2 is the closed set of valid country codes. Kept short and
// representative rather than exhaustive; unknown codes fall through to err
// the same way a real invalid code would.
var iso3166Alpha2 = map[string]bool{
	"US": true, "CA": true, "GB": true, "DE": true, "FR": true, "NL": true,
	"SG": true, "JP": true, "KR": true, "AU": true, "BR": true, "CN": true,
	"HK": true, "CH": true, "SE": true, "NO": true, "FI": true, "PL": true,
	"IN": true, "ZA": true, "AR": true, "MX": true, "IE": true, "IT": true,
	"ES": true, "RU": true, "UA": true, "TR": true, "AE": true, "IL": true,
	"PH": true, "ID": true, "MY": true, "VN": true, "TH": true, "NZ": true,
}

// Validate checks org.location: {country (ISO-3166-1 alpha-2), name,
// latitude, longitude}.
func (lv *LocationValidator) Validate(rec *findings.Recorder, loc Location, producerName string) {
	country := loc.Country
	if country != "" && strings.ToLower(country) == country {
		rec.Add(findings.Warn, "org.location.country is lowercase", findings.ClassOrg, map[string]interface{}{
			"country": country, "suggestion": strings.ToUpper(country),
		})
		country = strings.ToUpper(country)
	}

	valid := true

	if country == "" || !iso3166Alpha2[country] {
		rec.Add(findings.Err, "org.location.country is not a recognized ISO-3166-1 alpha-2 code", findings.ClassOrg, map[string]interface{}{
			"country": loc.Country,
		})
		valid = false
	}

	if loc.Name != "" && producerName != "" && loc.Name == producerName {
		rec.Add(findings.Err, "org.location.name is identical to org.candidate_name", findings.ClassOrg, map[string]interface{}{
			"name": loc.Name,
		})
		valid = false
	}

	lat, lon := loc.Latitude, loc.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		rec.Add(findings.Err, "org.location latitude/longitude is out of range", findings.ClassOrg, map[string]interface{}{
			"latitude": loc.Latitude, "longitude": loc.Longitude,
		})
		lat, lon = 0, 0
		valid = false
	}

	if lat == 0 && lon == 0 {
		rec.Add(findings.Err, "org.location is (0, 0)", findings.ClassOrg, nil)
		valid = false
	}

	if valid {
		rec.Add(findings.OK, "org.location is valid", findings.ClassOrg, map[string]interface{}{
			"country": country, "name": loc.Name, "latitude": loc.Latitude, "longitude": loc.Longitude,
		})
	}
}

// ValidateRegproducerLocation validates the numeric `location` field carried
// on the on-chain regproducer row, interpreted per the chain profile's
// location_check mode (spec.md §3, §4.10).
func (lv *LocationValidator) ValidateRegproducerLocation(rec *findings.Recorder, raw string) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		rec.Add(findings.Crit, "regproducer location is not numeric", findings.ClassGeneral, map[string]interface{}{"location": raw})
		return
	}

	switch lv.chain.LocationCheck {
	case "country":
		if value < 0 || value > 999 {
			rec.Add(findings.Crit, "regproducer location is not a valid 3-digit country code", findings.ClassGeneral, map[string]interface{}{"location": value})
			return
		}
	case "timezone":
		if value < 0 || value > 23 {
			rec.Add(findings.Crit, "regproducer location is not a valid UTC offset (0-23)", findings.ClassGeneral, map[string]interface{}{"location": value})
			return
		}
	case "timezone100":
		if value < 0 || value > 2399 {
			rec.Add(findings.Crit, "regproducer location is not a valid UTC offset x100 (0-2399)", findings.ClassGeneral, map[string]interface{}{"location": value})
			return
		}
	default:
		return
	}

	rec.Add(findings.OK, "regproducer location is within the valid range", findings.ClassGeneral, map[string]interface{}{
		"location": value, "mode": lv.chain.LocationCheck,
	})
}
