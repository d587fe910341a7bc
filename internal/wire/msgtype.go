package wire

// Control frame type codes. The numeric values are shared with the host
// but opaque otherwise, fixed for this agent the same way ron.go pins
// MESSAGE_COMMAND/MESSAGE_HEARTBEAT/... to specific uint16 values the
// client and server both compile in.
const (
	TypeACK   uint32 = iota + 1 // reply: success, optional payload
	TypeERROR                   // reply: failure, no payload

	// TypeREADY serves two roles: the agent emits it, type-only, as the
	// first frame after the control channel opens, and the host may also
	// send it later as the READY verb to ask the agent to rescan
	// devices, which replies ACK.
	TypeREADY

	TypeGETVERSION
	TypeSTARTPOD
	TypeSTOPPOD
	TypeDESTROYPOD
	TypeEXECCMD
	TypeNEWCONTAINER
	TypeKILLCONTAINER
	TypeREMOVECONTAINER
	TypeWRITEFILE
	TypeREADFILE
	TypeWINSIZE
	TypeONLINECPUMEM
	TypeSETUPINTERFACE
	TypeSETUPROUTE
	TypePING
	TypeGETPOD
)

// APIVersion is the single 32-bit value returned as GETVERSION's payload.
const APIVersion uint32 = 1
