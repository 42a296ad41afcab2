package domain

import "time"

// ItemResult is the reconciled result of one item inside a batch submission.
type ItemResult struct {
	Key     int
	Message string
}

// BatchOutcome is the success/failure breakdown of a multi-item operation.
type BatchOutcome struct {
	Succeeded []ItemResult
	Failed    []ItemResult
}

func (o *BatchOutcome) Succeed(key int, message string) {
	o.Succeeded = append(o.Succeeded, ItemResult{Key: key, Message: message})
}

func (o *BatchOutcome) Fail(key int, message string) {
	o.Failed = append(o.Failed, ItemResult{Key: key, Message: message})
}

func (o BatchOutcome) Total() int { return len(o.Succeeded) + len(o.Failed) }

func (o BatchOutcome) HasFailures() bool { return len(o.Failed) > 0 }

func (o BatchOutcome) FullySucceeded() bool {
	return len(o.Failed) == 0 && len(o.Succeeded) > 0
}

func (o BatchOutcome) SucceededKeys() []int {
	keys := make([]int, 0, len(o.Succeeded))
	for _, r := range o.Succeeded {
		keys = append(keys, r.Key)
	}
	return keys
}

func (o BatchOutcome) FailedKeys() []int {
	keys := make([]int, 0, len(o.Failed))
	for _, r := range o.Failed {
		keys = append(keys, r.Key)
	}
	return keys
}

// DeliveryAdjustment is the per-enrollee schedule computed for a pack operation.
type DeliveryAdjustment struct {
	EnrolleeID      string
	RequestedMonths int
	AdjustedMonths  int
	AdjustedDate    time.Time
	BoundaryDate    time.Time
	IsAdjusted      bool
}

// EffectiveQuantity scales a monthly base quantity by the months actually delivered.
func (a DeliveryAdjustment) EffectiveQuantity(baseQuantity int) int {
	return baseQuantity * a.AdjustedMonths
}
