package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/roach88/railpos/internal/events"
)

// Domain prefixes the hashed data. The version suffix allows the
// canonical form to change without colliding with older fingerprints.
const Domain = "railpos/trace/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Micro converts a measurement to integer millionths, rounding half away
// from zero. Non-finite values have no canonical form.
func Micro(f float64) (Int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return Int(math.Round(f * 1e6)), nil
}

// EventValue returns the canonical form of ev. Time is not part of it.
func EventValue(ev events.Event) (Object, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	obj := Object{
		"seq":  Int(ev.Seq),
		"kind": String(ev.Kind),
	}

	var err error
	switch ev.Kind {
	case events.KindPositionState:
		obj["position"], err = positionValue(ev.Position)
	case events.KindReferenceSource:
		obj["source"] = Object{"source": String(ev.Source.Source.String())}
	case events.KindDirectionMismatch:
		obj["mismatch"], err = mismatchValue(ev.Mismatch)
	case events.KindReplayProgress:
		var f Int
		f, err = Micro(ev.Progress.Fraction)
		obj["progress"] = Object{"fraction": f}
	case events.KindReplayDone:
		d := ev.Done
		obj["done"] = Object{
			"points_in":  Int(d.PointsIn),
			"points_out": Int(d.PointsOut),
			"dropped":    Int(d.Dropped),
			"cancelled":  Bool(d.Cancelled),
			"error":      String(d.Error),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("event %d (%s): %w", ev.Seq, ev.Kind, err)
	}
	return obj, nil
}

func positionValue(p *events.PositionState) (Object, error) {
	age, err := Micro(p.AgeSec)
	if err != nil {
		return nil, fmt.Errorf("age_sec: %w", err)
	}

	labels := p.Reasons.Labels()
	reasons := make(Array, len(labels))
	for i, l := range labels {
		reasons[i] = String(l)
	}

	obj := Object{
		"state":        String(p.State.String()),
		"reason_codes": reasons,
		"on_track":     Bool(p.OnTrack),
		"is_stale":     Bool(p.IsStale),
		"age_sec":      age,
	}
	if p.PK != nil {
		pk, err := Micro(*p.PK)
		if err != nil {
			return nil, fmt.Errorf("pk: %w", err)
		}
		obj["pk"] = pk
	}
	return obj, nil
}

func mismatchValue(m *events.DirectionMismatch) (Object, error) {
	ratio, err := Micro(m.Ratio)
	if err != nil {
		return nil, fmt.Errorf("ratio: %w", err)
	}
	return Object{
		"ratio":     ratio,
		"window_ms": Int(m.WindowMS),
		"expected":  String(m.Expected.String()),
	}, nil
}

// Fingerprint is the content hash of an event stream: SHA-256 over the
// canonical array of EventValue, as lowercase hex.
func Fingerprint(evs []events.Event) (string, error) {
	arr := make(Array, len(evs))
	for i, ev := range evs {
		v, err := EventValue(ev)
		if err != nil {
			return "", err
		}
		arr[i] = v
	}

	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(Domain, canonical), nil
}

// Diverge returns the index of the first event whose canonical form
// differs between a and b, or -1 when the traces are identical. When one
// trace is a prefix of the other the index is the shorter length.
func Diverge(a, b []events.Event) (int, error) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, err := canonicalEvent(a[i])
		if err != nil {
			return 0, err
		}
		cb, err := canonicalEvent(b[i])
		if err != nil {
			return 0, err
		}
		if string(ca) != string(cb) {
			return i, nil
		}
	}
	if len(a) != len(b) {
		return n, nil
	}
	return -1, nil
}

func canonicalEvent(ev events.Event) ([]byte, error) {
	v, err := EventValue(ev)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(v)
}
