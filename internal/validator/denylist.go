package validator

// Denylists for each language analyzer. Matching is syntactic: a rename to
// a local binding defeats these checks. The sandbox is the enforcement
// boundary; the validator exists to keep casual misuse out of the hot path
// and to surface obvious disallowed intent early.

var pythonBlockedOperations = map[string]bool{
	// Code execution
	"eval": true, "exec": true, "compile": true, "__import__": true,

	// Introspection (used for sandbox escapes)
	"globals": true, "locals": true, "vars": true, "getattr": true,
	"setattr": true, "delattr": true,

	// System
	"exit": true, "quit": true, "help": true,
}

var pythonBlockedModules = map[string]bool{
	// File system and OS
	"os": true, "sys": true, "io": true, "pathlib": true, "glob": true,
	"shutil": true, "tempfile": true,

	// Process and subprocess
	"subprocess": true, "multiprocessing": true, "threading": true, "asyncio": true,

	// Network
	"socket": true, "urllib": true, "http": true, "ftplib": true,
	"smtplib": true, "ssl": true, "requests": true,

	// Code execution
	"importlib": true, "imp": true, "code": true, "codeop": true, "runpy": true,

	// System access
	"ctypes": true, "pty": true, "pwd": true, "grp": true, "resource": true,
	"signal": true, "platform": true, "sysconfig": true,

	// Serialization that can execute code
	"pickle": true, "shelve": true, "marshal": true, "dill": true,
}

var pythonSafeDunders = map[string]bool{
	"__str__": true, "__repr__": true, "__len__": true, "__init__": true,
	"__name__": true, "__main__": true,
}

var javascriptBlockedCalls = map[string]bool{
	"eval": true, "Function": true,
}

var javascriptBlockedModules = map[string]bool{
	// File system
	"fs": true, "path": true,

	// System and process
	"os": true, "child_process": true, "cluster": true, "worker_threads": true,

	// Network
	"net": true, "http": true, "https": true, "http2": true, "dgram": true,
	"dns": true, "tls": true,

	// Code execution
	"v8": true, "vm": true, "repl": true,
}

var javascriptDangerousPatterns = []string{
	"process.binding",    // access to internal bindings
	"process.mainModule", // access to main module
	"global.process",     // global process access
	"globalThis.",        // global scope access
	"module.constructor", // constructor access
	"this.constructor",   // constructor access via this
	"Reflect.construct",  // constructor bypass
}

var javascriptBlockedIdentifiers = map[string]bool{
	"process": true, "global": true, "__dirname": true, "__filename": true,
}

var cBlockedFunctions = map[string]bool{
	// System and process
	"system": true, "exec": true, "execl": true, "execle": true,
	"execlp": true, "execv": true, "execve": true, "execvp": true,
	"execvpe": true, "popen": true, "fork": true, "vfork": true,

	// File operations (the sandbox handles these; extra safety)
	"fopen": true, "open": true, "creat": true, "remove": true,
	"unlink": true, "rmdir": true, "rename": true, "link": true,
	"symlink": true, "chmod": true, "chown": true,

	// Network
	"socket": true, "connect": true, "bind": true, "listen": true, "accept": true,

	// Dynamic loading and tracing
	"dlopen": true, "dlsym": true, "ptrace": true,
}

var cBlockedHeaders = []string{
	"sys/",     // system headers (sys/socket.h, sys/ptrace.h, ...)
	"unistd.h", // unix system calls
	"fcntl.h",  // file control
	"dlfcn.h",  // dynamic linking
	"netinet/", // network headers
	"arpa/",    // ARPA network headers
	"netdb.h",  // network database
}

var rustBlockedPaths = []string{
	// File system and I/O
	"std::fs", "std::path",

	// Network
	"std::net",

	// System and process
	"std::process", "std::os", "std::env",
}
