package statusmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_ShutdownAlwaysWins(t *testing.T) {
	r := Map(0, true, nil)
	assert.Equal(t, Report{Verb: VerbException, Reason: ReasonWorkerShutdown}, r)

	r = Map(245, true, map[int]string{245: ReasonIntermittentTask})
	assert.Equal(t, Report{Verb: VerbException, Reason: ReasonWorkerShutdown}, r)
}

func TestMap_ExitZeroCompleted(t *testing.T) {
	assert.Equal(t, Report{Verb: VerbCompleted}, Map(0, false, nil))
}

func TestMap_ExitOneFailed(t *testing.T) {
	assert.Equal(t, Report{Verb: VerbFailed}, Map(1, false, nil))
}

func TestMap_ExitTwoLegacyShutdown(t *testing.T) {
	assert.Equal(t, Report{Verb: VerbException, Reason: ReasonWorkerShutdown}, Map(2, false, nil))
}

func TestMap_ReversedStatuses(t *testing.T) {
	reversed := map[int]string{245: ReasonIntermittentTask, 241: ReasonSuperseded}
	assert.Equal(t, Report{Verb: VerbException, Reason: ReasonIntermittentTask}, Map(245, false, reversed))
	assert.Equal(t, Report{Verb: VerbException, Reason: ReasonSuperseded}, Map(241, false, reversed))
}

func TestMap_SIGSEGV(t *testing.T) {
	r := Map(-11, false, nil)
	assert.Equal(t, VerbException, r.Verb)
	assert.Equal(t, ReasonMalformedPayload, r.Reason)
	assert.Equal(t, "Automation Error: python exited with signal -11\n", r.LogLine)
}

func TestMap_UnknownCodeFailed(t *testing.T) {
	assert.Equal(t, Report{Verb: VerbFailed}, Map(127, false, nil))
}

func TestMap_Deterministic(t *testing.T) {
	reversed := map[int]string{245: ReasonIntermittentTask}
	for code := -20; code < 250; code++ {
		first := Map(code, false, reversed)
		second := Map(code, false, reversed)
		assert.Equal(t, first, second, "Map must be total and deterministic for code %d", code)
	}
}
