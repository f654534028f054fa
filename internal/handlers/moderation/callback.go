package handlers

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Verb string

const (
	VerbBan        Verb = "ban"
	VerbDelete     Verb = "del"
	VerbCancel     Verb = "cancel"
	VerbConfirm    Verb = "confirm"
	VerbReject     Verb = "reject"
	VerbPage       Verb = "page"
	VerbRemoveTerm Verb = "rmterm"
)

const callbackPrefix = "mod"

var ErrMalformedCallback = errors.New("malformed callback data")

// CallbackData is the payload of an inline button: mod:<verb>:<target>:<subject>.
// Term pagination reuses the two numeric slots for page and offset.
type CallbackData struct {
	Verb    Verb
	Target  int64
	Subject int64
}

func (c CallbackData) String() string {
	return strings.Join([]string{
		callbackPrefix,
		string(c.Verb),
		strconv.FormatInt(c.Target, 10),
		strconv.FormatInt(c.Subject, 10),
	}, ":")
}

// Moderation reports whether the verb resolves an action prompt.
func (v Verb) Moderation() bool {
	switch v {
	case VerbBan, VerbDelete, VerbCancel, VerbConfirm, VerbReject:
		return true
	}
	return false
}

func IsCallbackData(data string) bool {
	return strings.HasPrefix(data, callbackPrefix+":")
}

func ParseCallbackData(data string) (CallbackData, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != callbackPrefix {
		return CallbackData{}, errors.Wrapf(ErrMalformedCallback, "%q", data)
	}
	verb := Verb(parts[1])
	if !verb.Moderation() && verb != VerbPage && verb != VerbRemoveTerm {
		return CallbackData{}, errors.Wrapf(ErrMalformedCallback, "unknown verb %q", parts[1])
	}
	target, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return CallbackData{}, errors.Wrapf(ErrMalformedCallback, "target %q", parts[2])
	}
	subject, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return CallbackData{}, errors.Wrapf(ErrMalformedCallback, "subject %q", parts[3])
	}
	return CallbackData{Verb: verb, Target: target, Subject: subject}, nil
}
