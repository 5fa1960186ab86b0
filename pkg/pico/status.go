package pico

import (
	"errors"
	"fmt"
	"strconv"
)

// Status is a native Pico status code.
type Status int32

// Native status codes, mirroring picodefs.h.
const (
	StatusOK Status = 0

	// StatusEncoding is reserved for failures raised by this package before
	// any native call is made (unrepresentable strings, bad arguments).
	StatusEncoding Status = -1

	StatusNumberFormat       Status = -10
	StatusMaxNumExceed       Status = -11
	StatusNameConflict       Status = -12
	StatusNameUndefined      Status = -13
	StatusNameIllegal        Status = -14
	StatusBufOverflow        Status = -20
	StatusBufUnderflow       Status = -21
	StatusBufIgnore          Status = -22
	StatusOutOfMem           Status = -30
	StatusCantOpenFile       Status = -40
	StatusUnexpectedFileType Status = -41
	StatusFileCorrupt        Status = -42
	StatusFileNotFound       Status = -43
	StatusResourceBusy       Status = -50
	StatusResourceMissing    Status = -51
	StatusKBMissing          Status = -60

	StatusNullPtrAccess   Status = -100
	StatusInvalidHandle   Status = -101
	StatusInvalidArgument Status = -102
	StatusIndexOutOfRange Status = -103
	StatusErrOther        Status = -999

	StatusWarnIncomplete         Status = 10
	StatusWarnFallback           Status = 11
	StatusWarnOther              Status = 19
	StatusWarnKBOverwrite        Status = 50
	StatusWarnResourceDoubleLoad Status = 51
	StatusWarnInvector           Status = 60
	StatusWarnClassification     Status = 61
	StatusWarnOutvector          Status = 62
	StatusWarnPUIrregItem        Status = 70
	StatusWarnPUDiscardBuf       Status = 71

	StatusStepIdle  Status = 200
	StatusStepBusy  Status = 201
	StatusStepError Status = -200
)

var statusNames = map[Status]string{
	StatusOK:                     "PICO_OK",
	StatusEncoding:               "PICO_ENCODING",
	StatusNumberFormat:           "PICO_EXC_NUMBER_FORMAT",
	StatusMaxNumExceed:           "PICO_EXC_MAX_NUM_EXCEED",
	StatusNameConflict:           "PICO_EXC_NAME_CONFLICT",
	StatusNameUndefined:          "PICO_EXC_NAME_UNDEFINED",
	StatusNameIllegal:            "PICO_EXC_NAME_ILLEGAL",
	StatusBufOverflow:            "PICO_EXC_BUF_OVERFLOW",
	StatusBufUnderflow:           "PICO_EXC_BUF_UNDERFLOW",
	StatusBufIgnore:              "PICO_EXC_BUF_IGNORE",
	StatusOutOfMem:               "PICO_EXC_OUT_OF_MEM",
	StatusCantOpenFile:           "PICO_EXC_CANT_OPEN_FILE",
	StatusUnexpectedFileType:     "PICO_EXC_UNEXPECTED_FILE_TYPE",
	StatusFileCorrupt:            "PICO_EXC_FILE_CORRUPT",
	StatusFileNotFound:           "PICO_EXC_FILE_NOT_FOUND",
	StatusResourceBusy:           "PICO_EXC_RESOURCE_BUSY",
	StatusResourceMissing:        "PICO_EXC_RESOURCE_MISSING",
	StatusKBMissing:              "PICO_EXC_KB_MISSING",
	StatusNullPtrAccess:          "PICO_ERR_NULLPTR_ACCESS",
	StatusInvalidHandle:          "PICO_ERR_INVALID_HANDLE",
	StatusInvalidArgument:        "PICO_ERR_INVALID_ARGUMENT",
	StatusIndexOutOfRange:        "PICO_ERR_INDEX_OUT_OF_RANGE",
	StatusErrOther:               "PICO_ERR_OTHER",
	StatusWarnIncomplete:         "PICO_WARN_INCOMPLETE",
	StatusWarnFallback:           "PICO_WARN_FALLBACK",
	StatusWarnOther:              "PICO_WARN_OTHER",
	StatusWarnKBOverwrite:        "PICO_WARN_KB_OVERWRITE",
	StatusWarnResourceDoubleLoad: "PICO_WARN_RESOURCE_DOUBLE_LOAD",
	StatusWarnInvector:           "PICO_WARN_INVECTOR",
	StatusWarnClassification:     "PICO_WARN_CLASSIFICATION",
	StatusWarnOutvector:          "PICO_WARN_OUTVECTOR",
	StatusWarnPUIrregItem:        "PICO_WARN_PU_IRREG_ITEM",
	StatusWarnPUDiscardBuf:       "PICO_WARN_PU_DISCARD_BUF",
	StatusStepIdle:               "PICO_STEP_IDLE",
	StatusStepBusy:               "PICO_STEP_BUSY",
	StatusStepError:              "PICO_STEP_ERROR",
}

// String returns the symbolic name of the code, or the number if unknown.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return strconv.Itoa(int(s))
}

// IsOK reports whether s is PICO_OK.
func (s Status) IsOK() bool { return s == StatusOK }

// IsWarning reports whether s is in the native warning range (10..71).
func (s Status) IsWarning() bool { return s >= 10 && s <= 71 }

// IsException reports whether s is in the native exception range (-99..-10).
func (s Status) IsException() bool { return s <= -10 && s > -100 }

// IsError reports whether s is in the native error range (-999..-100).
func (s Status) IsError() bool { return s <= -100 && s >= -999 }

// Error is a failed native call: the status code and the message the native
// layer produced for it. Code is StatusEncoding for failures detected before
// reaching native code.
type Error struct {
	Code    Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pico: %s (error %d)", e.Message, int32(e.Code))
}

// Is matches any *Error carrying the same code, so sentinels below can be
// used with errors.Is regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrEncoding           = &Error{Code: StatusEncoding, Message: "encoding error"}
	ErrFileNotFound       = &Error{Code: StatusFileNotFound, Message: "file not found"}
	ErrCantOpenFile       = &Error{Code: StatusCantOpenFile, Message: "cannot open file"}
	ErrNameConflict       = &Error{Code: StatusNameConflict, Message: "name conflict"}
	ErrNameUndefined      = &Error{Code: StatusNameUndefined, Message: "name undefined"}
	ErrOutOfMem           = &Error{Code: StatusOutOfMem, Message: "out of memory"}
	ErrResourceBusy       = &Error{Code: StatusResourceBusy, Message: "resource busy"}
	ErrResourceMissing    = &Error{Code: StatusResourceMissing, Message: "resource missing"}
	ErrBufOverflow        = &Error{Code: StatusBufOverflow, Message: "buffer overflow"}
	ErrResourceDoubleLoad = &Error{Code: StatusWarnResourceDoubleLoad, Message: "resource double load"}
	ErrInvalidHandle      = &Error{Code: StatusInvalidHandle, Message: "invalid handle"}
)

// ErrNoBackend is returned by Initialize when no Backend was registered or
// passed with WithBackend.
var ErrNoBackend = errors.New("pico: no native backend registered")

// ErrClosed is returned when a method is called on a closed handle.
var ErrClosed = errors.New("pico: use of closed handle")

// encodingError builds a StatusEncoding error.
func encodingError(descr string, detail error) *Error {
	if detail == nil {
		return &Error{Code: StatusEncoding, Message: descr}
	}
	return &Error{Code: StatusEncoding, Message: fmt.Sprintf("%s: %v", descr, detail)}
}

// messageFunc asks the native layer to describe code into out.
type messageFunc func(code Status, out *strbuf)

// translate converts a native status into nil (OK) or an *Error whose message
// is fetched through msg. Undecodable messages are replaced by a placeholder
// so the code always survives.
func translate(be Backend, code Status, msg messageFunc) error {
	if code == StatusOK {
		return nil
	}
	buf := newStrbuf(be, MaxMessageSize)
	defer buf.release()
	msg(code, buf)
	text, err := buf.Text()
	if err != nil {
		text = fmt.Sprintf("[invalid Pico message: %v]", err)
	}
	return &Error{Code: code, Message: text}
}
