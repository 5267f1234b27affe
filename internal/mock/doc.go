/*
Package mock contains mock implementations of rpcpool interfaces, intended
for use in unit-tests.

Mocks are generated by mockgen from the `go:generate` directive at the top of
the source file that declares the interface.  They are located in `./pkg/...`,
mirroring the directory structure of the repository root.  For example, the
mock for transport.Transport is found in `./pkg/transport/transport.go`.

The package name of all mock implementations follows the `mock_*` pattern,
where `*` is the original package name.
*/
package mock
