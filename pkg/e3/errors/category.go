// Package errors classifies failures into the closed set of kinds the
// coordinator can reason about, and provides a retry executor shared by
// every component that talks to an external collaborator (chain RPC,
// P2P dial, compute pool, FHE/ZK helper).
package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories a node-facing component can
// raise. Every error-topic publish carries one of these.
type Kind int

const (
	KindEvm Kind = iota
	KindNet
	KindData
	KindKeyGeneration
	KindDecryption
	KindSortition
	KindCompute
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindEvm:
		return "Evm"
	case KindNet:
		return "Net"
	case KindData:
		return "Data"
	case KindKeyGeneration:
		return "KeyGeneration"
	case KindDecryption:
		return "Decryption"
	case KindSortition:
		return "Sortition"
	case KindCompute:
		return "Compute"
	case KindParse:
		return "Parse"
	default:
		return "Unknown"
	}
}

// KindError wraps an underlying error with its Kind and enough context to
// route it to the right error topic subscriber.
type KindError struct {
	Kind    Kind
	Context string
	Err     error
}

func (e *KindError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// New wraps err with kind and a short context string describing what was
// being attempted.
func New(kind Kind, context string, err error) *KindError {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Context: context, Err: err}
}

// Evm, Net, Data, KeyGeneration, Decryption, Sortition, Compute and Parse
// are shorthand constructors for the matching Kind.
func Evm(context string, err error) *KindError           { return New(KindEvm, context, err) }
func Net(context string, err error) *KindError           { return New(KindNet, context, err) }
func Data(context string, err error) *KindError          { return New(KindData, context, err) }
func KeyGeneration(context string, err error) *KindError { return New(KindKeyGeneration, context, err) }
func Decryption(context string, err error) *KindError    { return New(KindDecryption, context, err) }
func Sortition(context string, err error) *KindError     { return New(KindSortition, context, err) }
func Compute(context string, err error) *KindError       { return New(KindCompute, context, err) }
func Parse(context string, err error) *KindError         { return New(KindParse, context, err) }

// Classify returns the Kind carried by err, or ok=false if err (or
// anything in its Unwrap chain) never went through New.
func Classify(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return 0, false
}
