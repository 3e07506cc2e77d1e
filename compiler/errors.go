package compiler

// Diagnostic codes. P codes come from scanning and parsing, C codes from
// code generation. Codes are stable; messages may change.
const (
	CodeUnexpectedChar     = "P001"
	CodeUnterminatedString = "P002"
	CodeExpectExpression   = "P003"
	CodeExpectToken        = "P004"
	CodeInvalidNumber      = "P005"

	CodeTooManyConstants  = "C001"
	CodeTooManyLocals     = "C002"
	CodeTooManyUpvalues   = "C003"
	CodeTooManyArguments  = "C004"
	CodeJumpTooLarge      = "C005"
	CodeInvalidAssignment = "C006"
	CodeTopLevelReturn    = "C007"
	CodeInitializerReturn = "C008"
	CodeThisOutsideClass  = "C009"
	CodeSuperMisuse       = "C010"
	CodeDuplicateLocal    = "C011"
	CodeOwnInitializer    = "C012"
	CodeSelfInheritance   = "C013"
)

// Limits imposed by one-byte operands.
const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxArguments = 255
)
