package irq

import "helios/kernel"

var errUnhandledTrap = &kernel.Error{Module: "irq", Message: "unhandled trap"}
