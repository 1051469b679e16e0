package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("maya")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "maya", b.Name())
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := New("maya", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		shed, change := b.RecordFailure()
		assert.False(t, shed, "failure %d must not shed yet", i+1)
		assert.False(t, change.Opened)
	}

	shed, change := b.RecordFailure()
	assert.True(t, shed)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
}

func TestBreaker_ProbesCloseTheCircuit(t *testing.T) {
	b := New("maya", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	// One good probe is not enough evidence the gateway recovered.
	healthy, change := b.RecordSuccess()
	assert.False(t, healthy)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	healthy, change = b.RecordSuccess()
	assert.True(t, healthy)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_SuccessClearsFailureStreak(t *testing.T) {
	b := New("maya", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The streak restarts; two more failures stay under the threshold.
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_FailedProbeRestartsRecovery(t *testing.T) {
	b := New("maya", WithFailureThreshold(1), WithSuccessThreshold(3))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.True(t, b.IsOpen(), "recovery counts from zero after a failed probe")
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	b := New("maya", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailuresWhileOpenAreNotTransitions(t *testing.T) {
	b := New("maya", WithFailureThreshold(1))

	b.RecordFailure()
	shed, change := b.RecordFailure()
	assert.True(t, shed)
	assert.False(t, change.Opened)
}
