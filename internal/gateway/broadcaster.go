package gateway

import (
	"reflect"
	"strconv"
	"time"

	"shadowbeta/internal/model"
)

// buildEnvelope hand-crafts {"channel":..,"data":..,"ts":..,"seq":N}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// Tee forwards every event to each non-nil broadcaster in order. A nil
// pointer held in the interface, such as an unset *Hub, counts as nil.
type Tee []model.Broadcaster

// NewTee drops the nil entries up front.
func NewTee(bs ...model.Broadcaster) Tee {
	t := make(Tee, 0, len(bs))
	for _, b := range bs {
		if !isNil(b) {
			t = append(t, b)
		}
	}
	return t
}

// Broadcast implements model.Broadcaster.
func (t Tee) Broadcast(ev model.Event) {
	for _, b := range t {
		if !isNil(b) {
			b.Broadcast(ev)
		}
	}
}

func isNil(b model.Broadcaster) bool {
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
