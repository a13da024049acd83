package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AuthPayload is the typed form of a verified Telegram payload.
// Raw holds the fields exactly as signed.
type AuthPayload struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	PhotoURL  string
	AuthDate  time.Time
	Hash      string
	Raw       map[string]string
}

type userJSON struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	PhotoURL  string `json:"photo_url"`
}

// ParseInitData decodes a URL-encoded Mini App initData string into a field map.
// Repeated keys are rejected since the check string cannot represent them.
func ParseInitData(initData string) (map[string]string, error) {
	initData = strings.TrimSpace(initData)
	if initData == "" {
		return nil, fmt.Errorf("%w: empty init data", ErrMalformed)
	}
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: repeated field %q", ErrMalformed, k)
		}
		fields[k] = v[0]
	}
	return fields, nil
}

// FieldsFromJSON decodes a Login Widget object. Scalars are rendered the way
// Telegram rendered them when signing: numbers verbatim, strings unquoted.
func FieldsFromJSON(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("%w: field %q is not a scalar", ErrMalformed, k)
		}
	}
	return fields, nil
}

func parsePayload(fields map[string]string) (*AuthPayload, error) {
	authDate, err := parseUnix(fields["auth_date"])
	if err != nil {
		return nil, err
	}

	p := &AuthPayload{
		AuthDate: authDate,
		Hash:     fields[hashField],
		Raw:      make(map[string]string, len(fields)),
	}
	for k, v := range fields {
		p.Raw[k] = v
	}

	if rawUser, ok := fields["user"]; ok {
		var u userJSON
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return nil, fmt.Errorf("%w: user: %v", ErrMalformed, err)
		}
		p.ID = u.ID
		p.FirstName = u.FirstName
		p.LastName = u.LastName
		p.Username = u.Username
		p.PhotoURL = u.PhotoURL
	} else {
		id, err := strconv.ParseInt(fields["id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: id: %v", ErrMalformed, err)
		}
		p.ID = id
		p.FirstName = fields["first_name"]
		p.LastName = fields["last_name"]
		p.Username = fields["username"]
		p.PhotoURL = fields["photo_url"]
	}

	if p.ID <= 0 {
		return nil, fmt.Errorf("%w: non-positive user id", ErrMalformed)
	}
	return p, nil
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: auth_date: %v", ErrMalformed, err)
	}
	return time.Unix(sec, 0), nil
}
