// Package review implements the device review lifecycle.
//
// A contractor submission appends a new review in REQUESTING_FOR_REVIEW;
// an admin decision approves or rejects the device's latest review in
// place. Each transition writes the review and the device's mirrored
// result in one bounded transaction.
//
//	INITIAL_STATE ──submit──▶ REQUESTING_FOR_REVIEW ──decide──▶ APPROVED
//	                                   ▲                  │
//	                                   └──submit── REJECTED ◀┘
//
// APPROVED is terminal for submissions. Only the latest review of a
// (device, facility, customer) chain may be decided; the check is a
// conditional UPDATE in the same transaction, so two admins racing on a
// superseded review cannot both succeed.
package review
