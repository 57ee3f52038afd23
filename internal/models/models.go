package models

// All lists every persisted model, in migration order.
var All = []interface{}{
	&Query{},
	&Target{},
	&Grant{},
	&Batch{},
	&ChildExecution{},
	&ChildResult{},
}
