// Package codequeue implements the delayed-execution queue for G-codes
// whose effect must coincide with the completion of previously submitted
// motion segments rather than with their submission. Fan and output-state
// changes are the usual occupants: executed immediately they would act
// while the coordinating moves are still in the look-ahead queue.
//
// Entries live in a fixed-capacity arena threaded by two intrusive index
// lists, one FIFO of pending entries and one of free slots, so enqueue and
// release are O(1) with bounded memory and no per-entry allocation.
package codequeue

import (
	"errors"
	"fmt"
	"strings"

	"reprap-host/pkg/gcode"
)

// DefaultCapacity matches the original firmware's internal queue length.
const DefaultCapacity = 8

// ErrQueueFull is the backpressure signal: the caller must retry the
// command later rather than lose it.
var ErrQueueFull = errors.New("codequeue: no free entries")

// none terminates an intrusive list.
const none int32 = -1

// Entry is a deferred command: the verbatim text, the source it came from,
// and the segments-submitted count it waits for.
type Entry struct {
	Source  *gcode.Buffer
	Command string
	// Target is the value the segments-completed counter must reach
	// before the entry becomes eligible.
	Target uint32
}

type slot struct {
	entry Entry
	next  int32
}

// Queue is a fixed-capacity FIFO of deferred commands. It is not safe for
// concurrent use; all access happens from the interpreter's tick context.
type Queue struct {
	arena       []slot
	pendingHead int32
	pendingTail int32
	freeHead    int32
	length      int
}

// New creates a queue with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		arena:       make([]slot, capacity),
		pendingHead: none,
		pendingTail: none,
		freeHead:    0,
	}
	for i := range q.arena {
		q.arena[i].next = int32(i + 1)
	}
	q.arena[capacity-1].next = none
	return q
}

// Len returns the number of pending entries.
func (q *Queue) Len() int { return q.length }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.arena) }

// Enqueue defers a command until the completed-segments counter reaches
// target. Entries are appended in submission order; a full arena reports
// ErrQueueFull and leaves existing entries untouched.
func (q *Queue) Enqueue(source *gcode.Buffer, command string, target uint32) error {
	idx := q.freeHead
	if idx == none {
		return ErrQueueFull
	}
	q.freeHead = q.arena[idx].next

	q.arena[idx].entry = Entry{Source: source, Command: command, Target: target}
	q.arena[idx].next = none

	if q.pendingTail == none {
		q.pendingHead = idx
	} else {
		q.arena[q.pendingTail].next = idx
	}
	q.pendingTail = idx
	q.length++
	return nil
}

// eligible compares counters under a common modulus so ordering survives
// wraparound.
func eligible(target, completed uint32) bool {
	return int32(completed-target) >= 0
}

// ReleaseEligible pops entries from the head while their target has been
// reached, invoking run for each. run returns true when the command has
// fully executed; returning false stops the release with the entry still
// at the head, to be retried next tick (a mid-execution command must not
// unblock entries behind it). Returns the number of entries consumed.
func (q *Queue) ReleaseEligible(completed uint32, run func(Entry) bool) int {
	released := 0
	for q.pendingHead != none {
		idx := q.pendingHead
		if !eligible(q.arena[idx].entry.Target, completed) {
			break
		}
		if run != nil && !run(q.arena[idx].entry) {
			break
		}
		q.unlinkHead(idx)
		released++
	}
	return released
}

// Drain releases every pending entry regardless of eligibility. run may be
// nil to discard without executing (print cancellation).
func (q *Queue) Drain(run func(Entry)) int {
	drained := 0
	for q.pendingHead != none {
		idx := q.pendingHead
		if run != nil {
			run(q.arena[idx].entry)
		}
		q.unlinkHead(idx)
		drained++
	}
	return drained
}

func (q *Queue) unlinkHead(idx int32) {
	q.pendingHead = q.arena[idx].next
	if q.pendingHead == none {
		q.pendingTail = none
	}
	q.arena[idx].entry = Entry{}
	q.arena[idx].next = q.freeHead
	q.freeHead = idx
	q.length--
}

// Dump describes the pending entries for diagnostics.
func (q *Queue) Dump() string {
	if q.pendingHead == none {
		return "code queue empty"
	}
	var sb strings.Builder
	for idx := q.pendingHead; idx != none; idx = q.arena[idx].next {
		e := &q.arena[idx].entry
		fmt.Fprintf(&sb, "%q awaiting move %d\n", e.Command, e.Target)
	}
	return strings.TrimRight(sb.String(), "\n")
}
