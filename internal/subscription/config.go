package subscription

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
	"github.com/tidwall/gjson"
)

// KeyRequestsBlocked is the configuration key of the blocked request counter.
// Its value is a string-encoded integer.
const KeyRequestsBlocked = "requests_blocked"

// State is the persisted configuration of the engine.
type State struct {
	// Subscriptions are in the order in which they appear in the file.
	Subscriptions []*Subscription

	// RequestsBlocked is the total number of blocked requests.
	RequestsBlocked uint64
}

// entry is the persisted form of a subscription.
type entry struct {
	Source     string `json:"source"`
	LastUpdate int64  `json:"last_update"`
	NextUpdate int64  `json:"next_update"`
	Enabled    bool   `json:"enabled"`
}

// ReadState reads the configuration file at path.  Subscriptions without a
// valid last update time get now.  A missing file yields an empty state.
func ReadState(path string, now time.Time) (st *State, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}

		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseState(data, now)
}

// ParseState parses the contents of a configuration file.
func ParseState(data []byte, now time.Time) (st *State, err error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.Error("config is not valid json")
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("config: want object, got %s", root.Type)
	}

	st = &State{}
	root.ForEach(func(key, value gjson.Result) (cont bool) {
		if key.String() == KeyRequestsBlocked {
			st.RequestsBlocked, _ = strconv.ParseUint(value.String(), 10, 64)

			return true
		}

		st.Subscriptions = append(st.Subscriptions, subscriptionFromJSON(key.String(), value, now))

		return true
	})

	return st, nil
}

// subscriptionFromJSON builds the subscription stored under path.
func subscriptionFromJSON(path string, value gjson.Result, now time.Time) (s *Subscription) {
	s = New(path)
	s.Enabled = value.Get("enabled").Bool()
	s.Source = value.Get("source").String()

	s.LastUpdate = now
	if last := value.Get("last_update").Int(); last > 0 {
		s.LastUpdate = time.Unix(last, 0)
	}

	if next := value.Get("next_update").Int(); next > 0 {
		s.NextUpdate = time.Unix(next, 0)
	}

	return s
}

// unixSeconds returns t as seconds since the epoch, or 0 for the zero time.
func unixSeconds(t time.Time) (sec int64) {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// Marshal encodes the state in the configuration file format.
func (st *State) Marshal() (data []byte, err error) {
	obj := make(map[string]any, len(st.Subscriptions)+1)
	obj[KeyRequestsBlocked] = strconv.FormatUint(st.RequestsBlocked, 10)

	for _, s := range st.Subscriptions {
		obj[s.FilePath] = &entry{
			Source:     s.Source,
			LastUpdate: unixSeconds(s.LastUpdate),
			NextUpdate: unixSeconds(s.NextUpdate),
			Enabled:    s.Enabled,
		}
	}

	data, err = json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	return data, nil
}

// WriteState atomically replaces the configuration file at path.
func WriteState(path string, st *State) (err error) {
	data, err := st.Marshal()
	if err != nil {
		return err
	}

	err = renameio.WriteFile(path, data, 0o600)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	return nil
}
