package keys

import (
	"errors"
	"fmt"
)

// MaxKeyDepth bounds nesting of composite keys, a single public key has depth 1.
const MaxKeyDepth = 15

var (
	ErrThresholdTooHigh  = errors.New("threshold is greater than the number of keys")
	ErrNegativeThreshold = errors.New("threshold cannot be negative")
	ErrKeyDepthExceeded  = errors.New("key nesting depth exceeded")
	ErrEmptyKeyList      = errors.New("key list is empty")
)

// Key is either a single PublicKey or a composite *KeyList.
type Key interface {
	// IsSatisfied reports whether the signers reported by signed meet the key requirement.
	IsSatisfied(signed func(PublicKey) bool) bool
	// PublicKeys lists every leaf key, depth first, in declaration order.
	PublicKeys() []PublicKey
	depth() int
}

// IsSatisfied is true when the key itself signed.
func (p PublicKey) IsSatisfied(signed func(PublicKey) bool) bool {
	return signed(p)
}

// PublicKeys returns the key itself.
func (p PublicKey) PublicKeys() []PublicKey { return []PublicKey{p} }

func (p PublicKey) depth() int { return 1 }

// KeyList is an ordered composite key. Threshold 0 requires every sub key,
// otherwise at least Threshold top level sub keys must be satisfied.
type KeyList struct {
	Keys      []Key
	Threshold int
}

// NewKeyList creates a composite key requiring all of the keys.
func NewKeyList(keys ...Key) (*KeyList, error) {
	return NewThresholdKey(0, keys...)
}

// NewThresholdKey creates a composite key requiring threshold of the keys.
func NewThresholdKey(threshold int, keys ...Key) (*KeyList, error) {
	kl := &KeyList{Keys: keys, Threshold: threshold}
	if err := kl.Validate(); err != nil {
		return nil, err
	}
	return kl, nil
}

// Validate checks the threshold and nesting invariants.
func (kl *KeyList) Validate() error {
	if len(kl.Keys) == 0 {
		return ErrEmptyKeyList
	}
	if kl.Threshold < 0 {
		return ErrNegativeThreshold
	}
	if kl.Threshold > len(kl.Keys) {
		return errors.Join(ErrThresholdTooHigh, fmt.Errorf("threshold %d for %d keys", kl.Threshold, len(kl.Keys)))
	}
	if d := kl.depth(); d > MaxKeyDepth {
		return errors.Join(ErrKeyDepthExceeded, fmt.Errorf("depth %d, max %d", d, MaxKeyDepth))
	}
	return nil
}

// Required returns how many top level sub keys must be satisfied.
func (kl *KeyList) Required() int {
	if kl.Threshold == 0 {
		return len(kl.Keys)
	}
	return kl.Threshold
}

// IsSatisfied evaluates the sub keys recursively. Lists deeper than MaxKeyDepth and empty
// lists are never satisfied.
func (kl *KeyList) IsSatisfied(signed func(PublicKey) bool) bool {
	return kl.satisfied(signed, 1)
}

func (kl *KeyList) satisfied(signed func(PublicKey) bool, level int) bool {
	if level >= MaxKeyDepth || len(kl.Keys) == 0 {
		return false
	}
	required := kl.Required()
	var count int
	for _, k := range kl.Keys {
		var ok bool
		switch sub := k.(type) {
		case *KeyList:
			ok = sub.satisfied(signed, level+1)
		case nil:
		default:
			ok = sub.IsSatisfied(signed)
		}
		if ok {
			count++
			if count >= required {
				return true
			}
		}
	}
	return false
}

// PublicKeys lists every leaf key.
func (kl *KeyList) PublicKeys() []PublicKey {
	var out []PublicKey
	for _, k := range kl.Keys {
		if k == nil {
			continue
		}
		out = append(out, k.PublicKeys()...)
	}
	return out
}

func (kl *KeyList) depth() int {
	var deepest int
	for _, k := range kl.Keys {
		if k == nil {
			continue
		}
		if d := k.depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// SignedBy returns a signed predicate for a fixed set of public keys.
func SignedBy(signers ...PublicKey) func(PublicKey) bool {
	set := make(map[string]struct{}, len(signers))
	for _, s := range signers {
		set[string(append([]byte{byte(s.curve)}, s.raw...))] = struct{}{}
	}
	return func(p PublicKey) bool {
		_, ok := set[string(append([]byte{byte(p.curve)}, p.raw...))]
		return ok
	}
}
