package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadIdentityFallback(t *testing.T) {
	withOS := ThreadInfo{Name: "a", RuntimeID: 7, OSID: "0x1f"}
	assert.Equal(t, "nid:0x1f", withOS.Identity())

	withRID := ThreadInfo{Name: "a", RuntimeID: 7}
	assert.Equal(t, "rid:7", withRID.Identity())

	nameOnly := ThreadInfo{Name: "a", RuntimeID: -1}
	assert.Equal(t, "name:a", nameOnly.Identity())
}

func TestHexEqualsIgnoresAddresses(t *testing.T) {
	a := ThreadInfo{
		Name:                  "worker",
		RuntimeID:             3,
		OSID:                  "0xaa",
		Address:               "0x7f001",
		Priority:              5,
		State:                 StateBlocked,
		CPUTimeMs:             10,
		Stack:                 []StackFrame{{ClassName: "A", MethodName: "run"}},
		Locks:                 []LockInfo{{Identity: "0x1", TypeName: "java.lang.Object", Relation: RelationWaitingToLock}},
		WaitingOnLockIdentity: "0x1",
	}
	b := a
	b.RuntimeID = 99
	b.OSID = "0xbb"
	b.Address = "0x7f999"
	b.WaitingOnLockIdentity = "0x2"
	b.Locks = []LockInfo{{Identity: "0x2", TypeName: "java.lang.Object", Relation: RelationWaitingToLock}}
	assert.True(t, a.HexEquals(&b))

	c := a
	c.State = StateRunnable
	assert.False(t, a.HexEquals(&c))

	d := a
	d.Stack = []StackFrame{{ClassName: "B", MethodName: "run"}}
	assert.False(t, a.HexEquals(&d))
}

func TestDumpHexEquals(t *testing.T) {
	mk := func(addr string) *ThreadDump {
		return &ThreadDump{
			SourceType: SourceStackDump,
			Threads: []ThreadInfo{{
				Name:  "t",
				Locks: []LockInfo{{Identity: addr, TypeName: "java.lang.Object", Relation: RelationLocked}},
			}},
		}
	}
	assert.True(t, mk("0xaaa").HexEquals(mk("0xbbb")))

	other := mk("0xaaa")
	other.Threads = append(other.Threads, ThreadInfo{Name: "extra"})
	assert.False(t, mk("0xaaa").HexEquals(other))
}
