package notification

import "time"

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

var NewKafkaNotifierWithWriter = newKafkaNotifierWithWriter
