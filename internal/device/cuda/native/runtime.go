//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart -lcublas

// Forward declarations keep the build free of CUDA headers; linking still
// needs libcudart and libcublas.
typedef void* cudaStream_t;
typedef void* cudaEvent_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemset(void* ptr, int value, unsigned long long size);
extern cudaError_t cudaMemcpy(void* dst, const void* src, unsigned long long size, int kind);
extern cudaError_t cudaEventCreate(cudaEvent_t* event);
extern cudaError_t cudaEventDestroy(cudaEvent_t event);
extern cudaError_t cudaEventRecord(cudaEvent_t event, cudaStream_t stream);
extern cudaError_t cudaEventSynchronize(cudaEvent_t event);
extern cudaError_t cudaEventElapsedTime(float* ms, cudaEvent_t start, cudaEvent_t end);

#define KPROF_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define KPROF_CUDA_MEMCPY_DEVICE_TO_HOST 2

typedef struct cublasContext* cublasHandle_t;
typedef int cublasStatus_t;

extern cublasStatus_t cublasCreate_v2(cublasHandle_t* handle);
extern cublasStatus_t cublasDestroy_v2(cublasHandle_t handle);
extern cublasStatus_t cublasSetStream_v2(cublasHandle_t handle, cudaStream_t stream);
extern cublasStatus_t cublasGemmEx(
	cublasHandle_t handle,
	int transa,
	int transb,
	int m,
	int n,
	int k,
	const void* alpha,
	const void* A,
	int Atype,
	int lda,
	const void* B,
	int Btype,
	int ldb,
	const void* beta,
	void* C,
	int Ctype,
	int ldc,
	int computeType,
	int algo);

static const char* kprofCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int kprofCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int kprofCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int kprofCudaMemGetInfo(unsigned long long* free, unsigned long long* total) {
	return (int)cudaMemGetInfo(free, total);
}

static int kprofCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int kprofCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int kprofCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int kprofCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int kprofCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int kprofCudaMemset(void* ptr, int value, unsigned long long size) {
	return (int)cudaMemset(ptr, value, size);
}

static int kprofCudaMemcpy(void* dst, const void* src, unsigned long long size, int kind) {
	return (int)cudaMemcpy(dst, src, size, kind);
}

static int kprofCudaEventCreate(cudaEvent_t* out) {
	return (int)cudaEventCreate(out);
}

static int kprofCudaEventDestroy(cudaEvent_t event) {
	return (int)cudaEventDestroy(event);
}

static int kprofCudaEventRecord(cudaEvent_t event, cudaStream_t stream) {
	return (int)cudaEventRecord(event, stream);
}

static int kprofCudaEventSynchronize(cudaEvent_t event) {
	return (int)cudaEventSynchronize(event);
}

static int kprofCudaEventElapsedTime(float* ms, cudaEvent_t start, cudaEvent_t end) {
	return (int)cudaEventElapsedTime(ms, start, end);
}

static int kprofCublasCreate(cublasHandle_t* out) {
	return (int)cublasCreate_v2(out);
}

static int kprofCublasDestroy(cublasHandle_t handle) {
	return (int)cublasDestroy_v2(handle);
}

static int kprofCublasSetStream(cublasHandle_t handle, cudaStream_t stream) {
	return (int)cublasSetStream_v2(handle, stream);
}

static int kprofCublasGemmEx(
	cublasHandle_t handle,
	int transa,
	int transb,
	int m,
	int n,
	int k,
	const void* alpha,
	const void* A,
	int Atype,
	int lda,
	const void* B,
	int Btype,
	int ldb,
	const void* beta,
	void* C,
	int Ctype,
	int ldc,
	int computeType,
	int algo) {
	return (int)cublasGemmEx(handle, transa, transb, m, n, k, alpha, A, Atype, lda, B, Btype, ldb, beta, C, Ctype, ldc, computeType, algo);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrBlasNotSupported is cuBLAS status 15: the algorithm cannot run the
// requested shape or type combination.
var ErrBlasNotSupported = errors.New("cublas: not supported")

type Stream struct {
	ptr C.cudaStream_t
}

type Event struct {
	ptr C.cudaEvent_t
}

type BlasHandle struct {
	ptr C.cublasHandle_t
}

type DeviceBuffer struct {
	ptr  unsafe.Pointer
	size int64
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.kprofCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(ordinal int) error {
	return cudaErr(C.kprofCudaSetDevice(C.int(ordinal)))
}

// MemInfo returns free and total device memory in bytes.
func MemInfo() (int64, int64, error) {
	var free, total C.ulonglong
	if err := cudaErr(C.kprofCudaMemGetInfo(&free, &total)); err != nil {
		return 0, 0, err
	}
	return int64(free), int64(total), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.kprofCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.kprofCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.kprofCudaStreamSynchronize(s.ptr))
}

func NewEvent() (Event, error) {
	var ev C.cudaEvent_t
	if err := cudaErr(C.kprofCudaEventCreate(&ev)); err != nil {
		return Event{}, err
	}
	return Event{ptr: ev}, nil
}

func (e Event) Destroy() error {
	if e.ptr == nil {
		return nil
	}
	return cudaErr(C.kprofCudaEventDestroy(e.ptr))
}

func (e Event) Record(s Stream) error {
	return cudaErr(C.kprofCudaEventRecord(e.ptr, s.ptr))
}

func (e Event) Synchronize() error {
	return cudaErr(C.kprofCudaEventSynchronize(e.ptr))
}

// ElapsedMs is the time between two recorded events.
func ElapsedMs(start, end Event) (float64, error) {
	var ms C.float
	if err := cudaErr(C.kprofCudaEventElapsedTime(&ms, start.ptr, end.ptr)); err != nil {
		return 0, err
	}
	return float64(ms), nil
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.kprofCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr, size: bytes}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.kprofCudaFree(b.ptr))
}

func (b DeviceBuffer) Ptr() unsafe.Pointer {
	return b.ptr
}

func (b DeviceBuffer) Size() int64 {
	return b.size
}

func Memset(dst DeviceBuffer, value byte, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.kprofCudaMemset(dst.ptr, C.int(value), C.ulonglong(bytes)))
}

func MemcpyH2D(dst DeviceBuffer, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.kprofCudaMemcpy(dst.ptr, src, C.ulonglong(bytes), C.KPROF_CUDA_MEMCPY_HOST_TO_DEVICE))
}

func MemcpyD2H(dst unsafe.Pointer, src DeviceBuffer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.kprofCudaMemcpy(dst, src.ptr, C.ulonglong(bytes), C.KPROF_CUDA_MEMCPY_DEVICE_TO_HOST))
}

func NewBlasHandle(stream Stream) (BlasHandle, error) {
	var handle C.cublasHandle_t
	if err := cublasErr(C.kprofCublasCreate(&handle)); err != nil {
		return BlasHandle{}, err
	}
	if err := cublasErr(C.kprofCublasSetStream(handle, stream.ptr)); err != nil {
		_ = cublasErr(C.kprofCublasDestroy(handle))
		return BlasHandle{}, err
	}
	return BlasHandle{ptr: handle}, nil
}

func (h BlasHandle) Destroy() error {
	if h.ptr == nil {
		return nil
	}
	return cublasErr(C.kprofCublasDestroy(h.ptr))
}

type BlasDataType int

const (
	BlasF32  BlasDataType = 0  // CUDA_R_32F
	BlasF64  BlasDataType = 1  // CUDA_R_64F
	BlasF16  BlasDataType = 2  // CUDA_R_16F
	BlasI8   BlasDataType = 3  // CUDA_R_8I
	BlasI32  BlasDataType = 10 // CUDA_R_32I
	BlasBF16 BlasDataType = 14 // CUDA_R_16BF
)

type BlasComputeType int

const (
	BlasComputeF32 BlasComputeType = 68 // CUBLAS_COMPUTE_32F
	BlasComputeF64 BlasComputeType = 70 // CUBLAS_COMPUTE_64F
	BlasComputeI32 BlasComputeType = 72 // CUBLAS_COMPUTE_32I
)

type BlasOp int

const (
	BlasOpN BlasOp = 0 // CUBLAS_OP_N
	BlasOpT BlasOp = 1 // CUBLAS_OP_T
)

type BlasGemmAlgo int

const (
	BlasGemmDefault         BlasGemmAlgo = -1  // CUBLAS_GEMM_DEFAULT
	BlasGemmAlgo0           BlasGemmAlgo = 0   // CUBLAS_GEMM_ALGO0
	BlasGemmAlgo23          BlasGemmAlgo = 23  // CUBLAS_GEMM_ALGO23
	BlasGemmDefaultTensorOp BlasGemmAlgo = 99  // CUBLAS_GEMM_DEFAULT_TENSOR_OP
	BlasGemmAlgo0TensorOp   BlasGemmAlgo = 100 // CUBLAS_GEMM_ALGO0_TENSOR_OP
	BlasGemmAlgo15TensorOp  BlasGemmAlgo = 115 // CUBLAS_GEMM_ALGO15_TENSOR_OP
)

// GemmEx runs C = alpha*op(A)*op(B) + beta*C in column-major convention.
// alpha and beta are passed in the compute type's scalar width.
func GemmEx(handle BlasHandle, transA, transB BlasOp, m, n, k int, alpha, beta float64, a DeviceBuffer, aType BlasDataType, lda int, b DeviceBuffer, bType BlasDataType, ldb int, c DeviceBuffer, cType BlasDataType, ldc int, compute BlasComputeType, algo BlasGemmAlgo) error {
	var alphaPtr, betaPtr unsafe.Pointer
	switch compute {
	case BlasComputeF64:
		a64, b64 := alpha, beta
		alphaPtr, betaPtr = unsafe.Pointer(&a64), unsafe.Pointer(&b64)
	case BlasComputeI32:
		a32, b32 := int32(alpha), int32(beta)
		alphaPtr, betaPtr = unsafe.Pointer(&a32), unsafe.Pointer(&b32)
	default:
		a32, b32 := float32(alpha), float32(beta)
		alphaPtr, betaPtr = unsafe.Pointer(&a32), unsafe.Pointer(&b32)
	}
	return cublasErr(C.kprofCublasGemmEx(
		handle.ptr,
		C.int(transA),
		C.int(transB),
		C.int(m),
		C.int(n),
		C.int(k),
		alphaPtr,
		a.ptr,
		C.int(aType),
		C.int(lda),
		b.ptr,
		C.int(bType),
		C.int(ldb),
		betaPtr,
		c.ptr,
		C.int(cType),
		C.int(ldc),
		C.int(compute),
		C.int(algo),
	))
}

func cublasErr(code C.int) error {
	switch code {
	case 0:
		return nil
	case 15:
		return ErrBlasNotSupported
	}
	return fmt.Errorf("cublas error %d", int(code))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.kprofCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
