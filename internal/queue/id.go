package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// ID addresses one job for delete, bury and acknowledgement.
//
// It is a closed sum type: RowID for stored rows (poll table jobs and push
// archive entries) and DeliveryTag for live broker deliveries. Engines resolve
// it with a type switch and reject kinds they cannot address with ErrForeignID.
type ID interface {
	fmt.Stringer
	isID()
}

// RowID addresses a stored row
type RowID int64

func (RowID) isID() {}

func (id RowID) String() string {
	return "row:" + strconv.FormatInt(int64(id), 10)
}

// DeliveryTag addresses a live broker delivery
type DeliveryTag uint64

func (DeliveryTag) isID() {}

func (t DeliveryTag) String() string {
	return "delivery:" + strconv.FormatUint(uint64(t), 10)
}

// ParseRowID parses an operator supplied row id, either "12" or "row:12"
func ParseRowID(s string) (RowID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "row:"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return RowID(n), nil
}
