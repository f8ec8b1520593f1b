package clock_test

import (
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/clock"

	"github.com/stretchr/testify/assert"
)

func TestMock(t *testing.T) {
	m := clock.NewMock(time.Unix(1000, 0))
	assert.Equal(t, int64(1000), m.Now().Unix())

	m.Advance(4 * time.Second)
	assert.Equal(t, int64(1004), m.Now().Unix())

	m.Set(time.Unix(9000, 0))
	assert.Equal(t, int64(9000), m.Now().Unix())

	var zero clock.Mock
	assert.Equal(t, int64(0), zero.Now().Unix())
	zero.Advance(time.Second)
	assert.Equal(t, int64(1), zero.Now().Unix())
}

func TestFunc(t *testing.T) {
	at := time.Unix(42, 0)
	c := clock.Func(func() time.Time { return at })
	assert.True(t, c.Now().Equal(at))

	assert.WithinDuration(t, time.Now(), clock.System().Now(), time.Second)
}
