// Package picoapi is the cgo backend for package pico. It links the SVOX
// Pico library (libttspico) and maps every [pico.Backend] method onto the
// corresponding picoapi.h entry point.
//
// Importing the package registers the backend as the process default:
//
//	import _ "github.com/haivivi/picotts/pkg/pico/picoapi"
//
// # Linking
//
// The library is dynamically linked with -lttspico. On Debian/Ubuntu the
// headers and library come from libttspico-dev; elsewhere point CGO_CFLAGS
// and CGO_LDFLAGS at a build of the android pico sources (lib/ directory).
//
// This package performs no lifetime checking. Use it through package pico.
package picoapi

/*
#cgo LDFLAGS: -lttspico
#include <picoapi.h>
#include <picodefs.h>
#include <stdlib.h>
#include <string.h>

// Helpers take void* for handles and buffers so Go does not need the
// native typedefs.

static void* go_pico_alloc(size_t size, size_t align) {
    void* p = NULL;
    if (posix_memalign(&p, align, size) != 0) return NULL;
    memset(p, 0, size);
    return p;
}

static pico_Status go_pico_initialize(void* mem, pico_Uint32 size, void** out) {
    pico_System sys = NULL;
    pico_Status st = pico_initialize(mem, size, &sys);
    *out = (void*)sys;
    return st;
}

static pico_Status go_pico_terminate(void* sys) {
    pico_System s = (pico_System)sys;
    return pico_terminate(&s);
}

static pico_Status go_pico_system_message(void* sys, pico_Status code, void* out) {
    return pico_getSystemStatusMessage((pico_System)sys, code, out);
}

static pico_Status go_pico_load_resource(void* sys, const char* path, void** out) {
    pico_Resource res = NULL;
    pico_Status st = pico_loadResource((pico_System)sys, (const pico_Char*)path, &res);
    *out = (void*)res;
    return st;
}

static pico_Status go_pico_resource_name(void* sys, void* res, void* out) {
    return pico_getResourceName((pico_System)sys, (pico_Resource)res, out);
}

static pico_Status go_pico_unload_resource(void* sys, void* res) {
    pico_Resource r = (pico_Resource)res;
    return pico_unloadResource((pico_System)sys, &r);
}

static pico_Status go_pico_create_voice(void* sys, const char* name) {
    return pico_createVoiceDefinition((pico_System)sys, (const pico_Char*)name);
}

static pico_Status go_pico_add_resource(void* sys, const char* voice, const char* res) {
    return pico_addResourceToVoiceDefinition((pico_System)sys,
        (const pico_Char*)voice, (const pico_Char*)res);
}

static pico_Status go_pico_release_voice(void* sys, const char* name) {
    return pico_releaseVoiceDefinition((pico_System)sys, (const pico_Char*)name);
}

static pico_Status go_pico_new_engine(void* sys, const char* voice, void** out) {
    pico_Engine eng = NULL;
    pico_Status st = pico_newEngine((pico_System)sys, (const pico_Char*)voice, &eng);
    *out = (void*)eng;
    return st;
}

static pico_Status go_pico_dispose_engine(void* sys, void* eng) {
    pico_Engine e = (pico_Engine)eng;
    return pico_disposeEngine((pico_System)sys, &e);
}

static pico_Status go_pico_engine_message(void* eng, pico_Status code, void* out) {
    return pico_getEngineStatusMessage((pico_Engine)eng, code, out);
}

static pico_Status go_pico_put_text(void* eng, const void* text, pico_Int16 size, pico_Int16* put) {
    return pico_putTextUtf8((pico_Engine)eng, (const pico_Char*)text, size, put);
}

static pico_Status go_pico_get_data(void* eng, void* buf, pico_Int16 size, pico_Int16* got, pico_Int16* dtype) {
    return pico_getData((pico_Engine)eng, buf, size, got, dtype);
}

static pico_Status go_pico_reset(void* eng, pico_Int32 mode) {
    return pico_resetEngine((pico_Engine)eng, mode);
}
*/
import "C"

import (
	"unsafe"

	"github.com/haivivi/picotts/pkg/pico"
)

func init() {
	pico.Register(Backend{})
}

// Backend implements pico.Backend on top of libttspico.
type Backend struct{}

var _ pico.Backend = Backend{}

func (Backend) Alloc(size, align int) unsafe.Pointer {
	return C.go_pico_alloc(C.size_t(size), C.size_t(align))
}

func (Backend) Free(p unsafe.Pointer) {
	C.free(p)
}

func (Backend) Initialize(mem unsafe.Pointer, size int) (pico.Handle, pico.Status) {
	var out unsafe.Pointer
	st := C.go_pico_initialize(mem, C.pico_Uint32(size), &out)
	return pico.Handle(out), pico.Status(st)
}

func (Backend) Terminate(sys pico.Handle) pico.Status {
	return pico.Status(C.go_pico_terminate(unsafe.Pointer(sys)))
}

func (Backend) SystemStatusMessage(sys pico.Handle, code pico.Status, out unsafe.Pointer) pico.Status {
	return pico.Status(C.go_pico_system_message(unsafe.Pointer(sys), C.pico_Status(code), out))
}

func (Backend) LoadResource(sys pico.Handle, path string) (pico.Handle, pico.Status) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var out unsafe.Pointer
	st := C.go_pico_load_resource(unsafe.Pointer(sys), cPath, &out)
	return pico.Handle(out), pico.Status(st)
}

func (Backend) ResourceName(sys, res pico.Handle, out unsafe.Pointer) pico.Status {
	return pico.Status(C.go_pico_resource_name(unsafe.Pointer(sys), unsafe.Pointer(res), out))
}

func (Backend) UnloadResource(sys, res pico.Handle) pico.Status {
	return pico.Status(C.go_pico_unload_resource(unsafe.Pointer(sys), unsafe.Pointer(res)))
}

func (Backend) CreateVoiceDefinition(sys pico.Handle, voice string) pico.Status {
	cName := C.CString(voice)
	defer C.free(unsafe.Pointer(cName))
	return pico.Status(C.go_pico_create_voice(unsafe.Pointer(sys), cName))
}

func (Backend) AddResourceToVoiceDefinition(sys pico.Handle, voice, resource string) pico.Status {
	cVoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cVoice))
	cRes := C.CString(resource)
	defer C.free(unsafe.Pointer(cRes))
	return pico.Status(C.go_pico_add_resource(unsafe.Pointer(sys), cVoice, cRes))
}

func (Backend) ReleaseVoiceDefinition(sys pico.Handle, voice string) pico.Status {
	cName := C.CString(voice)
	defer C.free(unsafe.Pointer(cName))
	return pico.Status(C.go_pico_release_voice(unsafe.Pointer(sys), cName))
}

func (Backend) NewEngine(sys pico.Handle, voice string) (pico.Handle, pico.Status) {
	cName := C.CString(voice)
	defer C.free(unsafe.Pointer(cName))

	var out unsafe.Pointer
	st := C.go_pico_new_engine(unsafe.Pointer(sys), cName, &out)
	return pico.Handle(out), pico.Status(st)
}

func (Backend) DisposeEngine(sys, eng pico.Handle) pico.Status {
	return pico.Status(C.go_pico_dispose_engine(unsafe.Pointer(sys), unsafe.Pointer(eng)))
}

func (Backend) EngineStatusMessage(eng pico.Handle, code pico.Status, out unsafe.Pointer) pico.Status {
	return pico.Status(C.go_pico_engine_message(unsafe.Pointer(eng), C.pico_Status(code), out))
}

func (Backend) PutTextUTF8(eng pico.Handle, text []byte) (int, pico.Status) {
	if len(text) == 0 {
		return 0, pico.StatusOK
	}
	var put C.pico_Int16
	st := C.go_pico_put_text(unsafe.Pointer(eng), unsafe.Pointer(&text[0]), C.pico_Int16(len(text)), &put)
	return int(put), pico.Status(st)
}

func (Backend) GetData(eng pico.Handle, buf []byte) (int, int16, pico.Status) {
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	var got, dtype C.pico_Int16
	st := C.go_pico_get_data(unsafe.Pointer(eng), ptr, C.pico_Int16(len(buf)), &got, &dtype)
	return int(got), int16(dtype), pico.Status(st)
}

func (Backend) ResetEngine(eng pico.Handle, mode pico.ResetMode) pico.Status {
	return pico.Status(C.go_pico_reset(unsafe.Pointer(eng), C.pico_Int32(mode)))
}
