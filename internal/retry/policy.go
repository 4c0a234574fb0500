package retry

import (
	"time"

	"github.com/shaiso/Harvest/internal/backoff"
)

// Rule связывает класс ошибки, предикат его распознавания и параметры backoff.
type Rule struct {
	Class     Class
	Predicate Predicate
	Params    backoff.Params
}

// Policies — параметры backoff для каждого retry-класса.
type Policies struct {
	Contention     backoff.Params
	Overload       backoff.Params
	TransientInfra backoff.Params
}

// DefaultPolicies возвращает параметры по умолчанию.
//
// overload отражает устойчивую нагрузку, а не мгновенную гонку,
// поэтому ему дают больше времени на разгрузку.
func DefaultPolicies() Policies {
	return Policies{
		Contention: backoff.Params{
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     3,
			JitterFraction: 0.1,
			Deadline:       2 * time.Minute,
		},
		Overload: backoff.Params{
			InitialDelay:   2 * time.Second,
			MaxDelay:       2 * time.Minute,
			Multiplier:     3,
			JitterFraction: 0.2,
			Deadline:       10 * time.Minute,
		},
		TransientInfra: backoff.Params{
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     3,
			JitterFraction: 0.1,
			Deadline:       3 * time.Minute,
		},
	}
}

// Rules возвращает правила в порядке приоритета: contention, overload, transient_infra.
func (p Policies) Rules() []Rule {
	return []Rule{
		{Class: ClassContention, Predicate: IsContention, Params: p.Contention},
		{Class: ClassOverload, Predicate: IsOverload, Params: p.Overload},
		{Class: ClassTransientInfra, Predicate: IsTransientInfra, Params: p.TransientInfra},
	}
}

// WithTransientDeadline возвращает копию, у которой deadline transient_infra
// не превышает d. Используется, чтобы retry не съедал общий таймаут вызывающего.
func (p Policies) WithTransientDeadline(d time.Duration) Policies {
	if d > 0 && (p.TransientInfra.Deadline <= 0 || p.TransientInfra.Deadline > d) {
		p.TransientInfra.Deadline = d
	}
	return p
}
