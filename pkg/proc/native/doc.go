// Package native connects the shared library engine to a live Linux
// process: target memory is accessed with process_vm_readv and
// process_vm_writev, the auxiliary vector and the memory map are read
// from procfs. Execution control is left to a Controller supplied by the
// caller.
package native
