package proto

// KVCode is a result code returned by the replicated KV store.
type KVCode uint8

const (
	KVSucceeded KVCode = iota
	KVLeaderChanged
	KVSpaceNotFound
	KVPartNotFound
	KVConsensusError
	KVCheckpointError
	KVWriteBlockError
	KVPartialResult
	KVUnknown
)

// ErrorCode is the processor-facing error surfaced in a PartitionResult.
type ErrorCode uint8

const (
	Succeeded ErrorCode = iota
	LeaderChanged
	SpaceNotFound
	PartNotFound
	ConsensusError
	FailedToCheckpoint
	CheckpointBlocked
	PartialResult
	Unknown

	// Row-encoder faults, translated per edge/vertex context.
	EdgePropNotFound
	TagPropNotFound
	NotNullable
	DataTypeMismatch
	FieldUnset
	OutOfRange
	InvalidFieldValue

	// Edge-writer specific faults.
	InvalidSpaceVidLen
	IndexNotFound
	SchemaNotFound
	InvalidOperation
)

func (e ErrorCode) String() string {
	switch e {
	case Succeeded:
		return "Succeeded"
	case LeaderChanged:
		return "LeaderChanged"
	case SpaceNotFound:
		return "SpaceNotFound"
	case PartNotFound:
		return "PartNotFound"
	case ConsensusError:
		return "ConsensusError"
	case FailedToCheckpoint:
		return "FailedToCheckpoint"
	case CheckpointBlocked:
		return "CheckpointBlocked"
	case PartialResult:
		return "PartialResult"
	case EdgePropNotFound:
		return "EdgePropNotFound"
	case TagPropNotFound:
		return "TagPropNotFound"
	case NotNullable:
		return "NotNullable"
	case DataTypeMismatch:
		return "DataTypeMismatch"
	case FieldUnset:
		return "FieldUnset"
	case OutOfRange:
		return "OutOfRange"
	case InvalidFieldValue:
		return "InvalidFieldValue"
	case InvalidSpaceVidLen:
		return "InvalidSpaceVidLen"
	case IndexNotFound:
		return "IndexNotFound"
	case SchemaNotFound:
		return "SchemaNotFound"
	case InvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}

// kvToErrorCode is the fixed KV-code -> processor-error translation table
// from the error handling design: every code not listed maps to Unknown.
var kvToErrorCode = map[KVCode]ErrorCode{
	KVSucceeded:       Succeeded,
	KVLeaderChanged:   LeaderChanged,
	KVSpaceNotFound:   SpaceNotFound,
	KVPartNotFound:    PartNotFound,
	KVConsensusError:  ConsensusError,
	KVCheckpointError: FailedToCheckpoint,
	KVWriteBlockError: CheckpointBlocked,
	KVPartialResult:   PartialResult,
}

// TranslateKVCode applies the fixed KV -> processor-error table.
func TranslateKVCode(c KVCode) ErrorCode {
	if e, ok := kvToErrorCode[c]; ok {
		return e
	}
	return Unknown
}

// EncoderFault is a row-writer failure, returned by RowCodec.Encode.
type EncoderFault uint8

const (
	FaultUnknownField EncoderFault = iota
	FaultNotNullable
	FaultTypeMismatch
	FaultFieldUnset
	FaultOutOfRange
	FaultIncorrectValue
)

func (f EncoderFault) Error() string {
	switch f {
	case FaultUnknownField:
		return "unknown field"
	case FaultNotNullable:
		return "field is not nullable"
	case FaultTypeMismatch:
		return "type mismatch"
	case FaultFieldUnset:
		return "field unset"
	case FaultOutOfRange:
		return "value out of range"
	case FaultIncorrectValue:
		return "incorrect value"
	default:
		return "unknown encoder fault"
	}
}

// edgeFaultToErrorCode and tagFaultToErrorCode are the fixed
// encoder-fault -> processor-error tables, one per context since
// UnknownField maps differently for edges vs. vertices.
var edgeFaultToErrorCode = map[EncoderFault]ErrorCode{
	FaultUnknownField:   EdgePropNotFound,
	FaultNotNullable:    NotNullable,
	FaultTypeMismatch:   DataTypeMismatch,
	FaultFieldUnset:     FieldUnset,
	FaultOutOfRange:     OutOfRange,
	FaultIncorrectValue: InvalidFieldValue,
}

var tagFaultToErrorCode = map[EncoderFault]ErrorCode{
	FaultUnknownField:   TagPropNotFound,
	FaultNotNullable:    NotNullable,
	FaultTypeMismatch:   DataTypeMismatch,
	FaultFieldUnset:     FieldUnset,
	FaultOutOfRange:     OutOfRange,
	FaultIncorrectValue: InvalidFieldValue,
}

// TranslateEdgeFault applies the edge-context encoder-fault table.
func TranslateEdgeFault(f EncoderFault) ErrorCode {
	if e, ok := edgeFaultToErrorCode[f]; ok {
		return e
	}
	return Unknown
}

// TranslateTagFault applies the vertex-context encoder-fault table.
func TranslateTagFault(f EncoderFault) ErrorCode {
	if e, ok := tagFaultToErrorCode[f]; ok {
		return e
	}
	return Unknown
}

// PartitionResult is one failure entry in a processor response; an empty
// result list means full success (Succeeded partitions are never listed
// individually).
type PartitionResult struct {
	Code   ErrorCode
	PartId PartId
	Leader *HostAddr
}

// ExecResponse is the common response shape for atomic-write RPCs.
type ExecResponse struct {
	Results []PartitionResult
}

func (r *ExecResponse) Failed() bool {
	return len(r.Results) > 0
}
