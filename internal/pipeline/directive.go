package pipeline

import (
	"regexp"
	"strings"
)

const directiveDelimiter = "-"

// OperationSet is the parsed form of a directive. An empty field means the
// operation was not requested.
type OperationSet struct {
	Resize  string
	Crop    string
	Gravity string
}

func (o OperationSet) Empty() bool {
	return o.Resize == "" && o.Crop == "" && o.Gravity == ""
}

type slot int

const (
	slotResize slot = iota
	slotCrop
	slotGravity
	slotCount
)

var (
	resizePattern = regexp.MustCompile(`(?i)^\d*%?x?\d*%?[\^!<>@]?$`)
	cropPattern   = regexp.MustCompile(`(?i)^crop(\d+x\d+\+\d+\+\d+)$`)

	gravityAnchors = map[string]string{
		"northwest": "NorthWest",
		"north":     "North",
		"northeast": "NorthEast",
		"west":      "West",
		"center":    "Center",
		"east":      "East",
		"southwest": "SouthWest",
		"south":     "South",
		"southeast": "SouthEast",
	}
)

// ParseDirective decodes a dash-delimited directive such as
// "300x200-crop300x200+10+10-Center". Tokens are scanned left to right and
// each one fills the first still-empty slot (resize, crop, gravity) whose
// pattern it matches. A filled slot is never overwritten and tokens that
// match nothing are dropped.
func ParseDirective(raw string) OperationSet {
	var (
		ops    OperationSet
		filled [slotCount]bool
	)

	for _, token := range strings.Split(raw, directiveDelimiter) {
		if filled[slotResize] && filled[slotCrop] && filled[slotGravity] {
			break
		}
		for s := slotResize; s < slotCount; s++ {
			if filled[s] {
				continue
			}
			value, ok := matchSlot(s, token)
			if !ok {
				continue
			}
			ops.set(s, value)
			filled[s] = true
			break
		}
	}

	return ops
}

func matchSlot(s slot, token string) (string, bool) {
	switch s {
	case slotResize:
		return matchResize(token)
	case slotCrop:
		return matchCrop(token)
	case slotGravity:
		return matchGravity(token)
	default:
		return "", false
	}
}

// matchResize accepts ImageMagick geometry such as "300x200", "50%",
// "x120" or "300x200^". The pattern alone also admits "", "x" and "!",
// which carry no size, so at least one digit is required.
func matchResize(token string) (string, bool) {
	if !resizePattern.MatchString(token) || !strings.ContainsAny(token, "0123456789") {
		return "", false
	}
	return strings.ToLower(token), true
}

func matchCrop(token string) (string, bool) {
	m := cropPattern.FindStringSubmatch(token)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func matchGravity(token string) (string, bool) {
	anchor, ok := gravityAnchors[strings.ToLower(token)]
	return anchor, ok
}

func (o *OperationSet) set(s slot, value string) {
	switch s {
	case slotResize:
		o.Resize = value
	case slotCrop:
		o.Crop = value
	case slotGravity:
		o.Gravity = value
	}
}
