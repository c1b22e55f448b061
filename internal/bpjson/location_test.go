package bpjson

import (
	"testing"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
)

func lastKind(rec *findings.Recorder) findings.Kind {
	all := rec.All()
	return all[len(all)-1].Kind
}

func TestLocationValidateOK(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "US", Name: "Example BP", Latitude: 37.7, Longitude: -122.4}, "somebody else")

	if lastKind(rec) != findings.OK {
		t.Fatalf("expected OK for a valid location, got %+v", rec.All())
	}
}

func TestLocationValidateLowercaseCountryWarnsButNormalizes(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "us", Name: "Example BP", Latitude: 37.7, Longitude: -122.4}, "")

	all := rec.All()
	if all[0].Kind != findings.Warn {
		t.Fatalf("expected a warn for lowercase country, got %+v", all[0])
	}
	if all[len(all)-1].Kind != findings.OK {
		t.Fatalf("expected the normalized country to still validate OK, got %+v", all)
	}
}

func TestLocationValidateUnknownCountry(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "ZZ", Latitude: 1, Longitude: 1}, "")

	if lastKind(rec) != findings.Err {
		t.Fatalf("expected err for an unrecognized country code, got %+v", rec.All())
	}
}

func TestLocationValidateNameMatchesProducerName(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "US", Name: "samebp", Latitude: 1, Longitude: 1}, "samebp")

	if lastKind(rec) != findings.Err {
		t.Fatalf("expected err when location.name matches the producer name, got %+v", rec.All())
	}
}

func TestLocationValidateOutOfRangeCoordinates(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "US", Latitude: 200, Longitude: 1}, "")

	if lastKind(rec) != findings.Err {
		t.Fatalf("expected err for out-of-range coordinates, got %+v", rec.All())
	}
}

func TestLocationValidateZeroZeroCoordinates(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{})
	lv.Validate(rec, Location{Country: "US", Latitude: 0, Longitude: 0}, "")

	if lastKind(rec) != findings.Err {
		t.Fatalf("expected err for a (0, 0) location, got %+v", rec.All())
	}
}

func TestValidateRegproducerLocationNonNumeric(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: "country"})
	lv.ValidateRegproducerLocation(rec, "not-a-number")

	if lastKind(rec) != findings.Crit {
		t.Fatalf("expected crit for a non-numeric location, got %+v", rec.All())
	}
}

func TestValidateRegproducerLocationCountryMode(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: "country"})
	lv.ValidateRegproducerLocation(rec, "840")

	if lastKind(rec) != findings.OK {
		t.Fatalf("expected OK for a valid 3-digit country code, got %+v", rec.All())
	}
}

func TestValidateRegproducerLocationCountryModeOutOfRange(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: "country"})
	lv.ValidateRegproducerLocation(rec, "1000")

	if lastKind(rec) != findings.Crit {
		t.Fatalf("expected crit for an out-of-range country code, got %+v", rec.All())
	}
}

func TestValidateRegproducerLocationTimezoneMode(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: "timezone"})
	lv.ValidateRegproducerLocation(rec, "23")

	if lastKind(rec) != findings.OK {
		t.Fatalf("expected OK for a valid timezone offset, got %+v", rec.All())
	}

	rec2 := findings.NewRecorder()
	lv.ValidateRegproducerLocation(rec2, "24")
	if lastKind(rec2) != findings.Crit {
		t.Fatalf("expected crit for an out-of-range timezone offset, got %+v", rec2.All())
	}
}

func TestValidateRegproducerLocationTimezone100Mode(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: "timezone100"})
	lv.ValidateRegproducerLocation(rec, "2399")

	if lastKind(rec) != findings.OK {
		t.Fatalf("expected OK for a valid timezone100 offset, got %+v", rec.All())
	}
}

func TestValidateRegproducerLocationUnknownModeIsNoop(t *testing.T) {
	rec := findings.NewRecorder()
	lv := NewLocationValidator(config.ChainProfile{LocationCheck: ""})
	lv.ValidateRegproducerLocation(rec, "840")

	if len(rec.All()) != 0 {
		t.Fatalf("expected no findings for an unset location_check mode, got %+v", rec.All())
	}
}
