package access

import (
	"encoding/json"
	"strconv"
)

// Claims is the complete claim set of a contractor token. Times are unix seconds.
type Claims struct {
	FacilityID int64 `json:"facility_id"`
	CustomerID int64 `json:"customer_id"`
	StartTime  int64 `json:"start_time"`
	Exp        int64 `json:"exp"`
}

// rawClaims is the fixed shape a verified payload must have. Values stay
// raw until the gate decides how a bad type for each field is reported.
type rawClaims struct {
	FacilityID json.RawMessage
	CustomerID json.RawMessage
	StartTime  json.RawMessage
	Exp        json.RawMessage
}

// fields lists the claim slots in the order missing fields are reported.
func (r *rawClaims) fields() []struct {
	name string
	dst  *json.RawMessage
} {
	return []struct {
		name string
		dst  *json.RawMessage
	}{
		{"facility_id", &r.FacilityID},
		{"customer_id", &r.CustomerID},
		{"start_time", &r.StartTime},
		{"exp", &r.Exp},
	}
}

// decodeClaims decodes a verified payload into the fixed claim shape.
// Keys match exactly and case-sensitively: any absent key is a
// ParameterMissingError and any key left over is ErrInvalidFieldsInToken.
func decodeClaims(payload []byte) (rawClaims, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(payload, &present); err != nil {
		return rawClaims{}, ErrMalformed
	}

	var rc rawClaims
	for _, f := range rc.fields() {
		v, ok := present[f.name]
		if !ok {
			return rawClaims{}, &ParameterMissingError{Field: f.name}
		}
		*f.dst = v
		delete(present, f.name)
	}
	if len(present) > 0 {
		return rawClaims{}, ErrInvalidFieldsInToken
	}
	return rc, nil
}

// parseInt accepts only a bare JSON integer. Strings, floats, exponents,
// booleans and null are rejected.
func parseInt(raw json.RawMessage) (int64, bool) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	return n, err == nil
}
