package port

import "time"

// ConditionInput 是 Deal 条件表达式能看到的变量：
// count、weekday（0=周日）、hour 均按平台时区取自预约时间
type ConditionInput struct {
	Count           int
	ReservationDate time.Time
}

// ConditionEvaluator 对 Deal 上配置的条件表达式求值
type ConditionEvaluator interface {
	// Validate 检查表达式能否编译，空表达式总是合法
	Validate(expr string) error
	Evaluate(expr string, in ConditionInput) (bool, error)
}
